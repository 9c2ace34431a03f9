package inactivity

import (
	"context"
	"time"
)

// RoomSource is the scheduler's view of the chat transport. It is the only
// ground truth for silence measurement: the scheduler does no message
// tracking of its own.
type RoomSource interface {
	// OccupiedRooms returns the identifiers of every room the agent is in
	OccupiedRooms(ctx context.Context) ([]string, error)

	// LatestActivity returns the timestamp of the most recent message in
	// room. A zero time means no activity is known yet. Must be safe to
	// call concurrently with message delivery.
	LatestActivity(ctx context.Context, room string) (time.Time, error)
}

// Behavior is a policy that acts on rooms which stayed silent long enough.
type Behavior interface {
	// Name identifies the behavior. It keys trigger records and must be
	// unique among registered behaviors.
	Name() string

	// Threshold returns the silence required before the behavior fires in
	// room. The boolean is false when the behavior never applies to that
	// room. Called on every tick, so it must be cheap and side-effect free.
	Threshold(room string) (time.Duration, bool)

	// Execute performs the action. Errors are logged by the scheduler and
	// the silence period is considered handled either way.
	Execute(ctx context.Context, room string) error
}
