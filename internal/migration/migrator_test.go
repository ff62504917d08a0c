package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	appconfig "github.com/BaSui01/contentguard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  BuildDatabaseURL(DatabaseTypeSQLite, "", 0, path, "", "", ""),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMigratorUpDown(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))

	version, dirty, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Up 幂等
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigratorTablesCreated(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	for _, table := range []string{"user_settings", "moderation_logs", "api_keys"} {
		var name string
		err := m.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
	}
}

func TestMigratorStatusAndInfo(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalMigrations)
	assert.Equal(t, 0, info.AppliedMigrations)
	assert.Equal(t, 1, info.PendingMigrations)

	require.NoError(t, m.Up(ctx))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "init_schema", statuses[0].Name)
	assert.True(t, statuses[0].Applied)
}

func TestNewMigratorValidation(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.Error(t, err)

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.Error(t, err, "missing database URL")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	assert.Error(t, err)
}

func TestParseDatabaseType(t *testing.T) {
	for in, want := range map[string]DatabaseType{
		"postgres":   DatabaseTypePostgres,
		"postgresql": DatabaseTypePostgres,
		"pg":         DatabaseTypePostgres,
		"sqlite":     DatabaseTypeSQLite,
		"sqlite3":    DatabaseTypeSQLite,
	} {
		got, err := ParseDatabaseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseDatabaseType("mysql")
	assert.Error(t, err)
}

func TestNewMigratorFromDatabaseConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.db")
	m, err := NewMigratorFromDatabaseConfig(appconfig.DatabaseConfig{
		Driver: "sqlite",
		Name:   path,
	})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up(context.Background()))
}

func TestCLIOutput(t *testing.T) {
	m := newSQLiteMigrator(t)
	cli := NewCLI(m)
	var out bytes.Buffer
	cli.SetOutput(&out)

	ctx := context.Background()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, out.String(), "init_schema")
	assert.Contains(t, out.String(), "Applied")
}
