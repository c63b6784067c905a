package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/signflow/internal/ids"
	"github.com/smallbiznis/signflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditEvent) error
	ListByEnvelope(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditEvent, error)
}

type ListRequest struct {
	pagination.Pagination
	TenantID   ids.TenantID
	EnvelopeID ids.EnvelopeID
}

type ListResponse struct {
	pagination.PageInfo
	Events []AuditEvent `json:"events"`
}

type Service interface {
	// Record appends an entry using db, which is normally the caller's
	// transaction so the entry commits with the state change it describes.
	Record(ctx context.Context, db *gorm.DB, entry Entry) (*AuditEvent, error)
	// RecordDetached appends an entry in its own transaction. It is used for
	// forensic events that must persist even though the triggering
	// operation fails.
	RecordDetached(ctx context.Context, entry Entry) (*AuditEvent, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidEnvelope  = errors.New("invalid_envelope")
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
