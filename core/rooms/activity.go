package rooms

import (
	"sync"
	"sync/atomic"
	"time"
)

// ActivityTracker remembers when the last message was seen in each room.
// Reads never block writers: every room has its own atomically updated
// timestamp, so the scheduler can poll while transports deliver messages.
type ActivityTracker struct {
	latest sync.Map // map[string]*atomic.Int64 (unix nanoseconds)
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{}
}

// Touch records activity in room at t. The stored value only moves forward,
// so a late or out-of-order delivery never rewinds the room's silence clock.
// It reports whether the stored timestamp advanced.
func (a *ActivityTracker) Touch(room string, t time.Time) bool {
	if t.IsZero() {
		return false
	}
	ts := t.UnixNano()

	for {
		v, _ := a.latest.LoadOrStore(room, new(atomic.Int64))
		slot := v.(*atomic.Int64)
		advanced := false
		for {
			current := slot.Load()
			if current >= ts {
				break
			}
			if slot.CompareAndSwap(current, ts) {
				advanced = true
				break
			}
		}
		// A concurrent Forget may have dropped the slot in the meantime;
		// write again so the update is not lost with it.
		if cur, ok := a.latest.Load(room); ok && cur == v {
			return advanced
		}
	}
}

// Latest returns the most recent activity seen in room. The boolean is false
// when nothing was ever recorded.
func (a *ActivityTracker) Latest(room string) (time.Time, bool) {
	v, ok := a.latest.Load(room)
	if !ok {
		return time.Time{}, false
	}
	ts := v.(*atomic.Int64).Load()
	if ts == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ts), true
}

// Forget drops the room. Used when the agent leaves, so that a later rejoin
// starts measuring from fresh activity. A Touch racing Forget is kept.
func (a *ActivityTracker) Forget(room string) {
	a.latest.Delete(room)
}
