package inactivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateBehavior = errors.New("behavior already registered")
	ErrInvalidBehavior   = errors.New("invalid behavior")
	ErrSchedulerStarted  = errors.New("scheduler already started")
	ErrBehaviorPanic     = errors.New("behavior panicked")
)

// TickSummary describes one evaluation pass.
type TickSummary struct {
	Rooms      int    `json:"rooms"`
	Busy       int    `json:"busy"`
	Skipped    int    `json:"skipped"`
	Dispatched int    `json:"dispatched"`
	Failed     int    `json:"failed"`
	Deferred   int    `json:"deferred"`
	Error      string `json:"error,omitempty"`
}

type tickStats struct {
	skipped, dispatched, failed, deferred atomic.Int64
}

// Scheduler polls every occupied room on a fixed cadence and dispatches the
// behaviors whose silence threshold was reached, at most once per silence
// period each.
type Scheduler struct {
	source   RoomSource
	triggers *TriggerTable
	runs     *RunLog
	opts     *options

	mu        sync.RWMutex
	behaviors []Behavior
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// serializes passes, whether driven by the loop or by callers
	tickMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
	dispatches sync.WaitGroup
}

// NewScheduler creates a scheduler reading rooms and activity from source
func NewScheduler(source RoomSource, opts ...Option) (*Scheduler, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		source:   source,
		triggers: NewTriggerTable(),
		runs:     NewRunLog(options.runLogSize),
		opts:     options,
		inflight: make(map[string]struct{}),
	}, nil
}

// Register adds a behavior. Behaviors are evaluated in registration order
// and can only be registered before Start.
func (s *Scheduler) Register(b Behavior) error {
	if b == nil || b.Name() == "" {
		return ErrInvalidBehavior
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerStarted
	}
	for _, existing := range s.behaviors {
		if existing.Name() == b.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateBehavior, b.Name())
		}
	}
	s.behaviors = append(s.behaviors, b)
	xlog.Debug("Registered behavior", "behavior", b.Name())
	return nil
}

// Behaviors returns the registered behaviors in registration order
func (s *Scheduler) Behaviors() []Behavior {
	s.mu.RLock()
	defer s.mu.RUnlock()

	behaviors := make([]Behavior, len(s.behaviors))
	copy(behaviors, s.behaviors)
	return behaviors
}

// Triggers returns the current trigger records
func (s *Scheduler) Triggers() []TriggerRecord {
	return s.triggers.Snapshot()
}

// Runs returns up to limit recent dispatch runs, newest first
func (s *Scheduler) Runs(limit int) []DispatchRun {
	return s.runs.Recent(limit)
}

// Cadence returns the configured cadence expression
func (s *Scheduler) Cadence() string {
	return s.opts.cadence
}

// Start begins the scheduler's polling loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		xlog.Warn("Inactivity scheduler already started")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	xlog.Info("Inactivity scheduler started", "cadence", s.opts.cadence, "behaviors", len(s.behaviors))
}

// Stop halts further scheduling. A pass already in progress runs to
// completion before Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	xlog.Info("Inactivity scheduler stopped")
}

// WaitDispatches blocks until every dispatch that outlived its pass has
// returned.
func (s *Scheduler) WaitDispatches() {
	s.dispatches.Wait()
}

// run is the main polling loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := time.Now()
		timer := time.NewTimer(s.opts.schedule.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			// Stop must not abort a pass half way through.
			summary := s.Tick(context.WithoutCancel(ctx))
			if summary.Dispatched > 0 || summary.Error != "" {
				xlog.Info("Inactivity pass finished",
					"rooms", summary.Rooms,
					"dispatched", summary.Dispatched,
					"failed", summary.Failed,
					"deferred", summary.Deferred,
					"skipped", summary.Skipped,
					"busy", summary.Busy,
				)
			}
		}
	}
}

// Tick runs one evaluation pass over every occupied room and returns once
// each room has been evaluated. Dispatches that exceed the dispatch timeout
// keep running in the background.
func (s *Scheduler) Tick(ctx context.Context) TickSummary {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	summary := TickSummary{}

	rooms, err := s.source.OccupiedRooms(ctx)
	if err != nil {
		xlog.Error("Failed to list occupied rooms, skipping pass", "error", err)
		summary.Error = err.Error()
		return summary
	}
	summary.Rooms = len(rooms)

	if removed := s.triggers.Prune(rooms); removed > 0 {
		xlog.Debug("Dropped trigger records of rooms no longer occupied", "count", removed)
	}

	behaviors := s.Behaviors()
	if len(behaviors) == 0 {
		return summary
	}

	now := s.opts.now()
	stats := &tickStats{}

	g := errgroup.Group{}
	g.SetLimit(s.opts.parallelism)

	for _, room := range rooms {
		if !s.acquireRoom(room) {
			xlog.Debug("Room still has a dispatch in flight, skipping", "room", room)
			summary.Busy++
			continue
		}
		g.Go(func() error {
			s.evaluateRoom(ctx, room, behaviors, now, stats)
			return nil
		})
	}
	g.Wait()

	summary.Skipped = int(stats.skipped.Load())
	summary.Dispatched = int(stats.dispatched.Load())
	summary.Failed = int(stats.failed.Load())
	summary.Deferred = int(stats.deferred.Load())
	return summary
}

// evaluateRoom checks every behavior against one room. Dispatches of the
// same room run one after the other in registration order.
func (s *Scheduler) evaluateRoom(ctx context.Context, room string, behaviors []Behavior, now time.Time, stats *tickStats) {
	release := true
	defer func() {
		if release {
			s.releaseRoom(room)
		}
	}()

	latest, err := s.source.LatestActivity(ctx, room)
	if err != nil {
		xlog.Warn("Failed to fetch latest activity, skipping room", "room", room, "error", err)
		stats.skipped.Add(1)
		return
	}
	if latest.IsZero() {
		xlog.Debug("No activity known for room, skipping", "room", room)
		stats.skipped.Add(1)
		return
	}
	silence := now.Sub(latest)

	for _, b := range behaviors {
		name := b.Name()
		if s.triggers.Handled(room, name, latest) {
			continue
		}

		threshold, applies, err := safeThreshold(b, room)
		if err != nil {
			xlog.Error("Behavior threshold failed", "room", room, "behavior", name, "error", err)
			s.triggers.RecordFired(room, name, latest)
			stats.failed.Add(1)
			continue
		}
		if !applies {
			continue
		}
		if !s.triggers.Claim(room, name, latest, threshold, now) {
			continue
		}

		xlog.Info("Room silent past threshold, dispatching",
			"room", room,
			"behavior", name,
			"silence", silence.Round(time.Second).String(),
			"threshold", threshold.String(),
		)
		stats.dispatched.Add(1)

		done := s.dispatch(room, b, latest)
		timer := time.NewTimer(s.opts.dispatchTimeout)
		select {
		case err := <-done:
			timer.Stop()
			if err != nil {
				stats.failed.Add(1)
			}
		case <-timer.C:
			xlog.Warn("Dispatch exceeded timeout, deferring remaining behaviors of the room",
				"room", room,
				"behavior", name,
				"timeout", s.opts.dispatchTimeout.String(),
			)
			stats.deferred.Add(1)

			// The room stays in flight until the dispatch returns.
			release = false
			s.dispatches.Add(1)
			go func() {
				defer s.dispatches.Done()
				<-done
				s.releaseRoom(room)
			}()
			return
		}
	}
}

// dispatch executes b in its own goroutine. The trigger record was already
// written by the caller, so the outcome does not affect eligibility.
func (s *Scheduler) dispatch(room string, b Behavior, latest time.Time) <-chan error {
	done := make(chan error, 1)
	run := DispatchRun{
		ID:       uuid.New().String(),
		Room:     room,
		Behavior: b.Name(),
		Activity: latest,
	}

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()

		// not tied to the dispatch timeout, which only decides when the
		// pass stops waiting
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.executeTimeout)
		defer cancel()

		run.StartedAt = time.Now()
		err := safeExecute(ctx, b, room)
		run.DurationMs = time.Since(run.StartedAt).Milliseconds()

		if err != nil {
			run.Status = DispatchError
			run.Error = err.Error()
			xlog.Error("Behavior execution failed",
				"room", room,
				"behavior", run.Behavior,
				"dispatch_id", run.ID,
				"error", err,
			)
		} else {
			run.Status = DispatchSuccess
			xlog.Info("Behavior executed",
				"room", room,
				"behavior", run.Behavior,
				"dispatch_id", run.ID,
				"duration_ms", run.DurationMs,
			)
		}

		s.runs.Add(run)
		for _, observe := range s.opts.observers {
			observe(run)
		}
		done <- err
	}()

	return done
}

func (s *Scheduler) acquireRoom(room string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if _, busy := s.inflight[room]; busy {
		return false
	}
	s.inflight[room] = struct{}{}
	return true
}

func (s *Scheduler) releaseRoom(room string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	delete(s.inflight, room)
}

func safeThreshold(b Behavior, room string) (threshold time.Duration, applies bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBehaviorPanic, r)
		}
	}()
	threshold, applies = b.Threshold(room)
	return threshold, applies, nil
}

func safeExecute(ctx context.Context, b Behavior, room string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBehaviorPanic, r)
		}
	}()
	return b.Execute(ctx, room)
}
