package testutil

import (
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DryRunMySQL opens a MySQL session that builds statements without a server.
// The returned func lists the SQL of every create and raw statement so far.
func DryRunMySQL(t *testing.T) (*gorm.DB, func() []string) {
	t.Helper()

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "signflow:signflow@tcp(127.0.0.1:3306)/signflow?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:                 true,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open mysql dry run: %v", err)
	}

	var statements []string
	capture := func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
	}
	if err := db.Callback().Create().After("gorm:create").Register("testutil:capture_create", capture); err != nil {
		t.Fatalf("register create capture: %v", err)
	}
	if err := db.Callback().Raw().After("gorm:raw").Register("testutil:capture_raw", capture); err != nil {
		t.Fatalf("register raw capture: %v", err)
	}
	return db, func() []string { return statements }
}
