package multiinstance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/storage"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) deliver(b storage.EventBulk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, b.ID)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

// members counts the instances joined under key.
func members(h *Hub, key string) int {
	g, ok := h.groups.Load(key)
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	h := NewHub()
	var a, b, other recorder
	h.Join("mem|db|humans", 1, a.deliver)
	h.Join("mem|db|humans", 2, b.deliver)
	h.Join("mem|db|pets", 3, other.deliver)

	h.Broadcast("mem|db|humans", 1, storage.EventBulk{ID: "bulk-1"})
	h.Broadcast("mem|db|humans", 2, storage.EventBulk{ID: "bulk-2"})

	assert.Equal(t, []string{"bulk-2"}, a.ids())
	assert.Equal(t, []string{"bulk-1"}, b.ids())
	assert.Empty(t, other.ids())
}

func TestHubLeave(t *testing.T) {
	h := NewHub()
	var a, b recorder
	leaveA := h.Join("k", 1, a.deliver)
	leaveB := h.Join("k", 2, b.deliver)
	require.Equal(t, 2, members(h, "k"))

	leaveA()
	leaveA()
	assert.Equal(t, 1, members(h, "k"))

	h.Broadcast("k", 3, storage.EventBulk{ID: "x"})
	assert.Empty(t, a.ids())
	assert.Equal(t, []string{"x"}, b.ids())

	leaveB()
	assert.Equal(t, 0, members(h, "k"))
	assert.Zero(t, h.groups.Size(), "empty groups are dropped")

	// Broadcasting to an unknown key is a no-op.
	h.Broadcast("k", 1, storage.EventBulk{ID: "y"})
}

func TestHubConcurrentJoinLeave(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			leave := h.Join("k", id, func(storage.EventBulk) {})
			h.Broadcast("k", id, storage.EventBulk{})
			leave()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, members(h, "k"))
}
