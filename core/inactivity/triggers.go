package inactivity

import (
	"slices"
	"strings"
	"sync"
	"time"
)

type triggerKey struct {
	room     string
	behavior string
}

// TriggerRecord is the activity timestamp observed when a behavior last
// fired in a room.
type TriggerRecord struct {
	Room     string    `json:"room"`
	Behavior string    `json:"behavior"`
	Activity time.Time `json:"activity"`
}

// TriggerTable remembers, per room and behavior, which silence period was
// already handled. A pair whose record equals the room's current latest
// activity is "fired"; anything else is "idle".
type TriggerTable struct {
	mu      sync.Mutex
	records map[triggerKey]time.Time
}

func NewTriggerTable() *TriggerTable {
	return &TriggerTable{records: make(map[triggerKey]time.Time)}
}

// ShouldFire reports whether behavior is due in room: no fire was recorded
// for this latest activity and at least threshold has elapsed since it.
func (t *TriggerTable) ShouldFire(room, behavior string, latest time.Time, threshold time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.shouldFire(triggerKey{room, behavior}, latest, threshold, now)
}

func (t *TriggerTable) shouldFire(key triggerKey, latest time.Time, threshold time.Duration, now time.Time) bool {
	if fired, ok := t.records[key]; ok && fired.Equal(latest) {
		return false
	}
	return now.Sub(latest) >= threshold
}

// RecordFired marks the silence period that started at latest as handled.
func (t *TriggerTable) RecordFired(room, behavior string, latest time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[triggerKey{room, behavior}] = latest
}

// Claim is ShouldFire and RecordFired in one step. A true result means the
// caller owns the dispatch for this silence period.
func (t *TriggerTable) Claim(room, behavior string, latest time.Time, threshold time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := triggerKey{room, behavior}
	if !t.shouldFire(key, latest, threshold, now) {
		return false
	}
	t.records[key] = latest
	return true
}

// Handled reports whether the silence period starting at latest was already
// handled for the pair.
func (t *TriggerTable) Handled(room, behavior string, latest time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fired, ok := t.records[triggerKey{room, behavior}]
	return ok && fired.Equal(latest)
}

// Prune drops the records of every room not in occupied and returns how
// many were removed.
func (t *TriggerTable) Prune(occupied []string) int {
	keep := make(map[string]struct{}, len(occupied))
	for _, r := range occupied {
		keep[r] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.records {
		if _, ok := keep[key.room]; !ok {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}

func (t *TriggerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.records)
}

// Snapshot returns every record ordered by room, then behavior.
func (t *TriggerTable) Snapshot() []TriggerRecord {
	t.mu.Lock()
	records := make([]TriggerRecord, 0, len(t.records))
	for key, at := range t.records {
		records = append(records, TriggerRecord{Room: key.room, Behavior: key.behavior, Activity: at})
	}
	t.mu.Unlock()

	slices.SortFunc(records, func(a, b TriggerRecord) int {
		if c := strings.Compare(a.Room, b.Room); c != 0 {
			return c
		}
		return strings.Compare(a.Behavior, b.Behavior)
	})
	return records
}
