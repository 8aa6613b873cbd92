package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(MigrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(MigrationFS, "migrations/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestMigrateRejectsBadInput(t *testing.T) {
	assert.Error(t, Migrate("", "up"))
	assert.Error(t, Migrate("postgres://localhost/x", "sideways"))
}

func TestRedisClientNeedsAddress(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{})
	assert.Error(t, err)
}
