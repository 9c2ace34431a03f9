package inactivity

import (
	"sync"
	"time"
)

type DispatchStatus string

const (
	DispatchSuccess DispatchStatus = "success"
	DispatchError   DispatchStatus = "error"
)

// DispatchRun represents a single execution of a behavior in a room
type DispatchRun struct {
	ID         string         `json:"id"`
	Room       string         `json:"room"`
	Behavior   string         `json:"behavior"`
	Activity   time.Time      `json:"activity"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Status     DispatchStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// RunLog keeps the most recent dispatch runs in memory.
type RunLog struct {
	mu   sync.Mutex
	runs []DispatchRun
	size int
}

func NewRunLog(size int) *RunLog {
	if size <= 0 {
		size = 1
	}
	return &RunLog{size: size}
}

func (l *RunLog) Add(run DispatchRun) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runs = append(l.runs, run)
	if over := len(l.runs) - l.size; over > 0 {
		l.runs = append(l.runs[:0], l.runs[over:]...)
	}
}

// Recent returns up to limit runs, newest first. A limit <= 0 returns all.
func (l *RunLog) Recent(limit int) []DispatchRun {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.runs) {
		limit = len(l.runs)
	}
	runs := make([]DispatchRun, 0, limit)
	for i := len(l.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, l.runs[i])
	}
	return runs
}
