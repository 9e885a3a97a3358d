package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowKeys(t *testing.T) {
	w := WindowKey{Group: "g1", Date: "2026-08-30", Hour: 20}

	assert.Equal(t, "queue:g1:2026-08-30:20", w.QueueKey())
	assert.Equal(t, "queue:g1:2026-08-30:20:mai8", w.LaneKey(LaneMai8))
	assert.Equal(t, "queue:g1:2026-08-30:20:mai9", w.LaneKey(LaneMai9))
	assert.Equal(t, "g1:2026-08-30:20", w.Flag())
	assert.Equal(t, 21, w.EndHour())
}

func TestNextWindow_CrossesMidnight(t *testing.T) {
	now := time.Date(2026, 8, 30, 23, 15, 0, 0, time.UTC)
	w := NextWindow("g1", now)

	assert.Equal(t, "2026-08-31", w.Date)
	assert.Equal(t, 0, w.Hour)
	assert.Equal(t, 1, w.EndHour())
}

func TestCurrentWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 20, 59, 59, 0, time.UTC)
	w := CurrentWindow("g1", now)

	assert.Equal(t, "2026-08-30", w.Date)
	assert.Equal(t, 20, w.Hour)
}

func TestEntry_Active(t *testing.T) {
	assert.True(t, Entry{Member: "a"}.Active())
	assert.False(t, Entry{Member: "a", State: StateVoid}.Active())
	assert.False(t, Entry{Member: "a", State: StateTakenOut}.Active())
}
