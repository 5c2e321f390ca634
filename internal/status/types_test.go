package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasSynced(t *testing.T) {
	t.Parallel()

	assert.False(t, SyncStatus{EntityType: "orders"}.HasSynced())
	assert.True(t, SyncStatus{
		EntityType: "orders",
		LastSyncAt: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}.HasSynced())
}
