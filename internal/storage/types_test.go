package storage

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointCompare(t *testing.T) {
	tests := []struct {
		a, b Checkpoint
		want int
	}{
		{Checkpoint{}, Checkpoint{ID: "a", LWT: 1}, -1},
		{Checkpoint{ID: "b", LWT: 1}, Checkpoint{ID: "a", LWT: 2}, -1},
		{Checkpoint{ID: "b", LWT: 2}, Checkpoint{ID: "a", LWT: 2}, 1},
		{Checkpoint{ID: "B", LWT: 2}, Checkpoint{ID: "a", LWT: 2}, -1},
		{Checkpoint{ID: "a", LWT: 2}, Checkpoint{ID: "a", LWT: 2}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Compare(tt.b), "%v vs %v", tt.a, tt.b)
		assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
	}
	assert.True(t, Checkpoint{}.IsZero())
	assert.False(t, Checkpoint{LWT: 1}.IsZero())
}

func TestCheckpointOf(t *testing.T) {
	assert.Equal(t, Checkpoint{ID: "x", LWT: 12.5}, CheckpointOf(doc("x", "1-a", 12.5, false), "id"))
}

func TestMonotonicClock(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	c := &MonotonicClock{wall: func() time.Time { return frozen }}

	var prev float64
	for n := 0; n < 1000; n++ {
		now := c.Now()
		require.Greater(t, now, prev)
		prev = now
	}
	assert.InDelta(t, 1_700_000_000_009.99, prev, 0.001)
}

func TestMonotonicClockFloor(t *testing.T) {
	c := &MonotonicClock{wall: func() time.Time { return time.UnixMilli(0) }}
	assert.Equal(t, 1.0, c.Now())
	assert.Equal(t, 1.01, c.Now())
}

func TestMonotonicClockFollowsWallTime(t *testing.T) {
	wall := time.UnixMilli(5000)
	c := &MonotonicClock{wall: func() time.Time { return wall }}
	assert.Equal(t, 5000.0, c.Now())
	wall = wall.Add(time.Second)
	assert.Equal(t, 6000.0, c.Now())
	wall = wall.Add(-time.Minute)
	assert.Equal(t, 6000.01, c.Now())
}

func TestSequence(t *testing.T) {
	var s Sequence
	got := []int64{s.Next(), s.Next(), s.Next()}
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
	assert.Equal(t, int64(1), got[0])
}

func TestErrorHelpers(t *testing.T) {
	closed := InstanceClosed("db", "users", "query")
	assert.True(t, IsClosed(closed))
	assert.True(t, IsProgrammerError(closed))
	assert.Contains(t, closed.Error(), "INSTANCE_CLOSED")

	backend := Backend("query", assert.AnError)
	assert.False(t, IsProgrammerError(backend))
	assert.ErrorIs(t, backend, assert.AnError)
	assert.Equal(t, ErrCodeBackend, GetCode(backend))
	assert.Equal(t, ErrCodeBackend, GetCode(assert.AnError))

	assert.Equal(t, ErrCodeNotImplemented, GetCode(NotImplemented("x")))
	assert.False(t, IsProgrammerError(SchemaMismatch("users", "a", "b")))
}
