package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, s *SQLiteStorage, name string) bool {
	t.Helper()
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	var rows int
	require.NoError(t, storage.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows))
	assert.Equal(t, len(AllMigrations), rows)

	for _, table := range []string{"categories", "products", "orders", "order_items", "payments", "outbox"} {
		assert.True(t, tableExists(t, storage, table), table)
	}
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	assert.False(t, tableExists(t, storage, "payments"))
	assert.False(t, tableExists(t, storage, "outbox"))
	assert.True(t, tableExists(t, storage, "orders"))

	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	// Re-applying restores the newer tables
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	assert.True(t, tableExists(t, storage, "outbox"))

	require.NoError(t, RollbackMigration(ctx, storage.db))
	require.NoError(t, RollbackMigration(ctx, storage.db))
	assert.False(t, tableExists(t, storage, "schema_version"))

	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)

	assert.Error(t, RollbackMigration(ctx, storage.db))
}
