package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestRunAutoMigratesSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migration_run?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Run(db, zap.NewNop()))
	require.NoError(t, Run(db, zap.NewNop()))

	for _, model := range Models() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestEmbeddedMigrationsCoverModels(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init_schema.up.sql")
	require.NoError(t, err)
	down, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init_schema.down.sql")
	require.NoError(t, err)

	for _, model := range Models() {
		tabler, ok := model.(schema.Tabler)
		require.True(t, ok, "%T has no table name", model)
		name := tabler.TableName()
		assert.True(t, strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+name+" ("), "up migration misses %s", name)
		assert.True(t, strings.Contains(string(down), "DROP TABLE IF EXISTS "+name+";"), "down migration misses %s", name)
	}
}

func TestRunRejectsNilHandle(t *testing.T) {
	assert.Error(t, Run(nil, zap.NewNop()))
	assert.Error(t, RunMigrations(nil))
}
