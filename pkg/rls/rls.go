package rls

import (
	"fmt"

	"gorm.io/gorm"
)

// WithTenant pins the tenant for postgres row level security policies for
// the rest of the transaction.
func WithTenant(tx *gorm.DB, tenantID int64) error {
	return tx.Exec(
		"SELECT set_config('app.current_tenant_id', ?, true)",
		fmt.Sprintf("%d", tenantID),
	).Error
}
