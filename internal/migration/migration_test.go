package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSourcesArePaired(t *testing.T) {
	names, err := Sources()
	require.NoError(t, err)
	assert.Contains(t, names, "000001_metering.up.sql")
	assert.Contains(t, names, "000001_metering.down.sql")
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if err := RunMigrations(nil); err == nil {
		t.Fatalf("expected error for nil handle")
	}
	if err := RunMySQLMigrations(nil); err == nil {
		t.Fatalf("expected error for nil mysql handle")
	}
}

func TestMySQLSchemaKeepsOnlyActiveAlertsUnique(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, mysqlMigrationsDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	pg, err := Sources()
	require.NoError(t, err)
	assert.Equal(t, pg, names, "every postgres migration has a mysql rendition")

	up, err := fs.ReadFile(embeddedMigrations, mysqlMigrationsDir+"/000001_metering.up.sql")
	require.NoError(t, err)
	ddl := string(up)
	assert.Contains(t, ddl, "active_key   TINYINT GENERATED ALWAYS AS (IF(active, 1, NULL)) STORED")
	assert.Contains(t, ddl, "UNIQUE KEY ux_billing_alerts_active (tenant_id, metric_type, level, active_key)")
	assert.NotContains(t, ddl, "WHERE active", "mysql has no partial indexes")
	assert.NotContains(t, ddl, " TEXT ", "mysql cannot index unbounded TEXT keys")
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{"tenants", "service_instances", "usage_samples", "billing_alerts"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
