package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrInvalidRoom    = errors.New("invalid room identifier")
	ErrNotConnected   = errors.New("connector not connected")
	ErrNotInRoom      = errors.New("not in room")
)

// Message is an inbound chat message as seen by a connector.
type Message struct {
	Network string
	// Room is the network-local identifier; for direct messages it is the
	// peer the reply must go to.
	Room   string
	Sender string
	Text   string
	At     time.Time
	// Direct marks private messages, which are not rooms.
	Direct bool
	// Self marks messages sent by the agent itself.
	Self bool
}

// Sink receives everything a connector observes.
type Sink interface {
	OnMessage(msg Message)
	OnJoin(network, room string)
	OnLeave(network, room string)
}

// Connector is a chat network the agent takes part in. Room identifiers
// are network-local; the Hub qualifies them.
type Connector interface {
	Network() string

	// Start connects and returns once the background loops are running.
	// They stop when ctx is cancelled.
	Start(ctx context.Context, sink Sink) error

	// Rooms lists the rooms currently occupied
	Rooms(ctx context.Context) ([]string, error)

	PostMessage(ctx context.Context, room, text string) error
	LeaveRoom(ctx context.Context, room string) error
}

// HistoryReader is implemented by connectors that can look up when others
// last spoke in a room, so rooms occupied before the agent started are not
// measured from its start time. A zero time means no such message exists.
type HistoryReader interface {
	LastMessage(ctx context.Context, room string) (time.Time, error)
}

// historyDepth is how many recent messages a reader looks through for one
// not written by the agent.
const historyDepth = 20

// Qualify builds the hub-wide identifier of a room
func Qualify(network, room string) string {
	return network + ":" + room
}

// SplitRoom is the inverse of Qualify
func SplitRoom(qualified string) (network, room string, err error) {
	network, room, found := strings.Cut(qualified, ":")
	if !found || network == "" || room == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRoom, qualified)
	}
	return network, room, nil
}
