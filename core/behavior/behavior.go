// Package behavior holds the built-in quiet-room behaviors run by the
// inactivity scheduler.
package behavior

import (
	"context"
	"strings"
	"time"

	"github.com/mudler/roomkeeper/core/rooms"
)

const (
	FillSilenceName = "fill-silence"
	LeaveRoomName   = "leave-room"
)

// Transport is what behaviors need from the chat layer.
type Transport interface {
	PostMessage(ctx context.Context, room, text string) error
	LeaveRoom(ctx context.Context, room string) error
}

// TagLookup answers tag queries. It is consulted on every evaluation, so
// tag changes take effect on the next tick.
type TagLookup interface {
	HasTag(room string, tag rooms.Tag) bool
}

// MessageData is passed to phrase templates.
type MessageData struct {
	Room    string
	Channel string
	Network string
	Now     time.Time
}

func newMessageData(room string) MessageData {
	network, channel, found := strings.Cut(room, ":")
	if !found {
		network, channel = "", room
	}
	return MessageData{
		Room:    room,
		Channel: channel,
		Network: network,
		Now:     time.Now(),
	}
}
