package repository

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_RejectsUnknownCommand(t *testing.T) {
	err := Migrate(context.Background(), "postgres://unused", MigrateOptions{Command: "sideways"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestMigrationsFS(t *testing.T) {
	fsys, err := migrationsFS()
	require.NoError(t, err)

	files, err := fs.Glob(fsys, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_users.sql", "00002_ledger_entries.sql"}, files)
}
