package inactivity

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Option func(*options) error

type options struct {
	cadence         string
	schedule        cron.Schedule
	dispatchTimeout time.Duration
	executeTimeout  time.Duration
	parallelism     int
	runLogSize      int
	now             func() time.Time
	observers       []func(DispatchRun)
}

const DefaultCadence = "@every 1m"

func defaultOptions() *options {
	schedule, _ := cron.ParseStandard(DefaultCadence)
	return &options{
		cadence:         DefaultCadence,
		schedule:        schedule,
		dispatchTimeout: 30 * time.Second,
		executeTimeout:  10 * time.Minute,
		parallelism:     8,
		runLogSize:      200,
		now:             time.Now,
	}
}

func newOptions(opts ...Option) (*options, error) {
	options := defaultOptions()
	for _, o := range opts {
		if err := o(options); err != nil {
			return nil, err
		}
	}
	return options, nil
}

// WithCadence sets how often rooms are evaluated. Accepts standard cron
// expressions and descriptors such as "@every 30s". The cadence should be
// well below the smallest behavior threshold, since it bounds how late a
// behavior can fire.
func WithCadence(expr string) Option {
	return func(o *options) error {
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			return fmt.Errorf("invalid cadence %q: %w", expr, err)
		}
		o.cadence = expr
		o.schedule = schedule
		return nil
	}
}

// WithDispatchTimeout bounds how long a room waits on a single dispatch
// before the rest of its evaluation is deferred to a later tick.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("dispatch timeout must be positive, got %s", d)
		}
		o.dispatchTimeout = d
		return nil
	}
}

// WithExecuteTimeout bounds the context handed to Behavior.Execute. It is
// independent from the dispatch timeout: a dispatch that outlives its pass
// keeps a live context until this deadline.
func WithExecuteTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("execute timeout must be positive, got %s", d)
		}
		o.executeTimeout = d
		return nil
	}
}

// WithParallelism sets how many rooms are evaluated concurrently.
func WithParallelism(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("parallelism must be positive, got %d", n)
		}
		o.parallelism = n
		return nil
	}
}

func WithRunLogSize(n int) Option {
	return func(o *options) error {
		o.runLogSize = n
		return nil
	}
}

// WithClock replaces time.Now for silence measurement.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		o.now = now
		return nil
	}
}

// WithObserver registers fn to be called with every finished dispatch run.
// fn runs on the dispatch goroutine and must not block.
func WithObserver(fn func(DispatchRun)) Option {
	return func(o *options) error {
		if fn == nil {
			return fmt.Errorf("observer must not be nil")
		}
		o.observers = append(o.observers, fn)
		return nil
	}
}
