package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsCreateSchema(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	tables := []string{
		"sync_status",
		"orders",
		"order_lines",
		"categories",
		"price_books",
		"users",
		"products",
	}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist after migration", table)
	}
}

func TestMigrationsRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	connString := pool.Config().ConnString()
	m, err := NewFromConnectionString(connString)
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Down())

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'orders'
		)`).Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists, "orders table should be gone after down migration")
}
