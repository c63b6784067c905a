package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestInitialMigrationCoversModels(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_signing_core.up.sql")
	require.NoError(t, err)

	sqlText := string(raw)

	db := testutil.OpenDB(t)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: db}
		require.NoError(t, stmt.Parse(model))
		table := stmt.Schema.Table
		assert.Contains(t, sqlText, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
		for _, column := range stmt.Schema.DBNames {
			assert.Contains(t, sqlText, "    "+column+" ", table+"."+column)
		}
	}
}

func TestAutoMigrate(t *testing.T) {
	db := testutil.OpenDB(t)
	require.NoError(t, AutoMigrate(db))
	for _, table := range []string{"envelopes", "signers", "invitation_tokens", "consents", "signatures", "audit_events", "outbox_events", "stored_objects"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("signatures", "ux_signatures_envelope_signer"))
}
