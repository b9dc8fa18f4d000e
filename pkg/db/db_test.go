package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/inventory"
)

func openTemp(t *testing.T) (string, *inventory.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "svt_components.db")
	gdb, err := Open(config.DatabaseConfig{Type: "sqlite", Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })
	require.NoError(t, Migrate(gdb))
	return path, inventory.NewStore(gdb, t.TempDir())
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path, store := openTemp(t)

	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, Ping(context.Background(), store.DB()))

	for _, m := range Models() {
		assert.True(t, store.DB().Migrator().HasTable(m), "%T", m)
	}
}

func TestOpen_ForeignKeysEnabled(t *testing.T) {
	_, store := openTemp(t)

	var on int
	require.NoError(t, store.DB().Raw("PRAGMA foreign_keys").Scan(&on).Error)
	assert.Equal(t, 1, on)
}

func TestOpen_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{"unknown type", config.DatabaseConfig{Type: "oracle"}, "unsupported database type"},
		{"sqlite without path", config.DatabaseConfig{Type: "sqlite"}, "path is required"},
		{"postgres without dsn", config.DatabaseConfig{Type: "postgres"}, "requires database.dsn"},
		{"mysql without dsn", config.DatabaseConfig{Type: "MySQL"}, "requires database.dsn"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	_, store := openTemp(t)
	require.NoError(t, Migrate(store.DB()))
}

func TestReset(t *testing.T) {
	_, store := openTemp(t)
	ctx := context.Background()
	require.NoError(t, store.CreateComponent(ctx, &inventory.Component{ID: "S-1", Type: inventory.TypeSensor}))

	require.NoError(t, Reset(store.DB()))

	n, err := store.CountComponents(ctx, inventory.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackup(t *testing.T) {
	_, store := openTemp(t)
	ctx := context.Background()
	require.NoError(t, store.CreateComponent(ctx, &inventory.Component{ID: "S-1", Type: inventory.TypeSensor}))

	dir := filepath.Join(t.TempDir(), "backups")
	dest, err := Backup(ctx, store.DB(), dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(dest), BackupPrefix))
	assert.Equal(t, ".db", filepath.Ext(dest))

	snap, err := Open(config.DatabaseConfig{Type: "sqlite", Path: dest}, nil)
	require.NoError(t, err)
	defer Close(snap)
	got, err := inventory.NewStore(snap, t.TempDir()).GetComponent(ctx, "S-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.TypeSensor, got.Type)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("svt:secret@tcp(db.lab:3306)/svt")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.True(t, strings.HasPrefix(dsn, "svt:secret@tcp(db.lab:3306)/svt?"), dsn)

	_, err = mysqlDSN("not a dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mysql dsn")
}
