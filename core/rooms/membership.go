package rooms

import (
	"slices"
	"sync"
)

// Membership is the set of rooms a transport currently occupies, for
// transports that only learn about membership through join/part events.
type Membership struct {
	mu    sync.RWMutex
	rooms map[string]struct{}
}

func NewMembership() *Membership {
	return &Membership{rooms: make(map[string]struct{})}
}

// Join adds room and reports whether it was new.
func (m *Membership) Join(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room]; ok {
		return false
	}
	m.rooms[room] = struct{}{}
	return true
}

// Leave removes room and reports whether it was present.
func (m *Membership) Leave(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room]; !ok {
		return false
	}
	delete(m.rooms, room)
	return true
}

func (m *Membership) Has(room string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.rooms[room]
	return ok
}

// List returns the occupied rooms in sorted order.
func (m *Membership) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.rooms))
	for r := range m.rooms {
		list = append(list, r)
	}
	slices.Sort(list)
	return list
}

// Reset empties the set, e.g. after a transport reconnects.
func (m *Membership) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.rooms)
}
