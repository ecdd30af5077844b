// Package multiinstance relays change events between storage instances
// opened on the same physical store, so a write through one instance shows
// up on the change streams of its siblings.
package multiinstance

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/docstore/internal/storage"
)

// Hub implements storage.Broadcaster in process.
type Hub struct {
	groups *xsync.MapOf[string, *group]
}

type group struct {
	mu      sync.RWMutex
	members map[int64]func(storage.EventBulk)
}

var _ storage.Broadcaster = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: xsync.NewMapOf[string, *group]()}
}

var defaultHub = NewHub()

// Default returns the process-wide hub.
func Default() *Hub { return defaultHub }

// Join implements storage.Broadcaster. Joining twice with the same member
// replaces its deliver function.
func (h *Hub) Join(key string, member int64, deliver func(storage.EventBulk)) func() {
	h.groups.Compute(key, func(g *group, loaded bool) (*group, bool) {
		if !loaded {
			g = &group{members: make(map[int64]func(storage.EventBulk))}
		}
		g.mu.Lock()
		g.members[member] = deliver
		g.mu.Unlock()
		return g, false
	})

	var once sync.Once
	return func() {
		once.Do(func() { h.leave(key, member) })
	}
}

func (h *Hub) leave(key string, member int64) {
	h.groups.Compute(key, func(g *group, loaded bool) (*group, bool) {
		if !loaded {
			return nil, true
		}
		g.mu.Lock()
		delete(g.members, member)
		empty := len(g.members) == 0
		g.mu.Unlock()
		return g, empty
	})
}

// Broadcast implements storage.Broadcaster. Members receive the bulk in
// ascending member order, on the caller's goroutine.
func (h *Hub) Broadcast(key string, from int64, bulk storage.EventBulk) {
	g, ok := h.groups.Load(key)
	if !ok {
		return
	}
	g.mu.RLock()
	ids := make([]int64, 0, len(g.members))
	for id := range g.members {
		if id != from {
			ids = append(ids, id)
		}
	}
	targets := make([]func(storage.EventBulk), 0, len(ids))
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for _, id := range ids {
		targets = append(targets, g.members[id])
	}
	g.mu.RUnlock()

	for _, deliver := range targets {
		deliver(bulk)
	}
}
