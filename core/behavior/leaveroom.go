package behavior

import (
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/xlog"
)

const DefaultFarewell = "Nobody has said anything in {{ .Channel }} for a long while, so I'm heading out. Invite me back any time!"

const (
	DefaultFarewellTimeout = 10 * time.Second
	DefaultLeaveTimeout    = 30 * time.Second
)

// LeaveRoom leaves rooms that stayed silent for a long time, saying goodbye
// first when it can.
type LeaveRoom struct {
	after           time.Duration
	farewell        *template.Template
	farewellTimeout time.Duration
	leaveTimeout    time.Duration
	transport       Transport
	tags            TagLookup
}

type LeaveRoomOption func(*LeaveRoom)

// WithFarewellTimeout bounds the farewell post
func WithFarewellTimeout(d time.Duration) LeaveRoomOption {
	return func(l *LeaveRoom) {
		if d > 0 {
			l.farewellTimeout = d
		}
	}
}

// WithLeaveTimeout bounds the leave itself
func WithLeaveTimeout(d time.Duration) LeaveRoomOption {
	return func(l *LeaveRoom) {
		if d > 0 {
			l.leaveTimeout = d
		}
	}
}

// NewLeaveRoom creates the behavior. An empty farewell uses DefaultFarewell.
func NewLeaveRoom(transport Transport, tags TagLookup, after time.Duration, farewell string, opts ...LeaveRoomOption) (*LeaveRoom, error) {
	if after <= 0 {
		return nil, fmt.Errorf("leave-room threshold must be positive, got %s", after)
	}
	if farewell == "" {
		farewell = DefaultFarewell
	}
	t, err := templateBase(LeaveRoomName, farewell)
	if err != nil {
		return nil, fmt.Errorf("invalid farewell template: %w", err)
	}

	l := &LeaveRoom{
		after:           after,
		farewell:        t,
		farewellTimeout: DefaultFarewellTimeout,
		leaveTimeout:    DefaultLeaveTimeout,
		transport:       transport,
		tags:            tags,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *LeaveRoom) Name() string {
	return LeaveRoomName
}

// Threshold declines home rooms.
func (l *LeaveRoom) Threshold(room string) (time.Duration, bool) {
	if l.tags.HasTag(room, rooms.TagHome) {
		return 0, false
	}
	return l.after, true
}

// Execute says goodbye and leaves. A failed or hanging farewell never
// prevents the leave: the leave gets its own budget even when the farewell
// used up ctx.
func (l *LeaveRoom) Execute(ctx context.Context, room string) error {
	text, err := templateExecute(l.farewell, newMessageData(room))
	if err != nil {
		xlog.Warn("Failed to render farewell", "room", room, "error", err)
	} else {
		postCtx, cancel := context.WithTimeout(ctx, l.farewellTimeout)
		err := l.transport.PostMessage(postCtx, room, text)
		cancel()
		if err != nil {
			xlog.Warn("Failed to post farewell, leaving anyway", "room", room, "error", err)
		}
	}

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.leaveTimeout)
	defer cancel()
	if err := l.transport.LeaveRoom(leaveCtx, room); err != nil {
		return fmt.Errorf("leaving %s: %w", room, err)
	}
	xlog.Info("Left silent room", "room", room)
	return nil
}
