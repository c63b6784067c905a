package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/signflow/internal/audit/domain"
	consentdomain "github.com/smallbiznis/signflow/internal/consent/domain"
	envelopedomain "github.com/smallbiznis/signflow/internal/envelope/domain"
	invitationdomain "github.com/smallbiznis/signflow/internal/invitation/domain"
	"github.com/smallbiznis/signflow/internal/objectstore"
	outboxdomain "github.com/smallbiznis/signflow/internal/outbox/domain"
	signingdomain "github.com/smallbiznis/signflow/internal/signing/domain"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

// Models lists every table owned by the signing core, in dependency order.
func Models() []any {
	return []any{
		&envelopedomain.Envelope{},
		&envelopedomain.Signer{},
		&invitationdomain.InvitationToken{},
		&consentdomain.Consent{},
		&signingdomain.Signature{},
		&auditdomain.AuditEvent{},
		&outboxdomain.OutboxEvent{},
		&objectstore.StoredObject{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. It backs the sqlite
// and mysql dialects, which have no hand-written migrations.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
