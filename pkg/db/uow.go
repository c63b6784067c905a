package db

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/pkg/rls"
	"github.com/smallbiznis/signflow/pkg/tenantctx"
	"gorm.io/gorm"
)

const defaultTxTimeout = 10 * time.Second

// UnitOfWork scopes one database transaction. Writes made through DB() commit
// or roll back together; callbacks registered with AfterCommit run only once
// the transaction has committed.
type UnitOfWork struct {
	tx          *gorm.DB
	afterCommit []func(context.Context)
}

func (u *UnitOfWork) DB() *gorm.DB { return u.tx }

// AfterCommit defers fn until the surrounding transaction commits. It is
// dropped on rollback.
func (u *UnitOfWork) AfterCommit(fn func(context.Context)) {
	if fn != nil {
		u.afterCommit = append(u.afterCommit, fn)
	}
}

// TxManager runs units of work against the primary database.
type TxManager struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewTxManager(db *gorm.DB, cfg config.Config) *TxManager {
	return NewTxManagerWithTimeout(db, cfg.DBTxTimeout)
}

func NewTxManagerWithTimeout(db *gorm.DB, timeout time.Duration) *TxManager {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &TxManager{db: db, timeout: timeout}
}

// DB returns the non-transactional handle for reads.
func (m *TxManager) DB() *gorm.DB { return m.db }

var ErrTxAborted = errors.New("transaction_aborted")

// Do runs fn inside a transaction. A context without a deadline gets the
// manager's default timeout. On postgres the tenant carried by ctx is pinned
// for row level security.
func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrTxAborted, err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	uow := &UnitOfWork{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID, ok := tenantctx.TenantID(ctx); ok && tx.Dialector.Name() == "postgres" {
			if err := rls.WithTenant(tx, tenantID); err != nil {
				return err
			}
		}
		uow.tx = tx
		return fn(ctx, uow)
	})
	if err != nil {
		return err
	}

	for _, hook := range uow.afterCommit {
		hook(context.WithoutCancel(ctx))
	}
	return nil
}
