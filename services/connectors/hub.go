package connectors

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/pkg/xstrings"
	"github.com/mudler/xlog"
)

// MessageHandler is invoked for every message not sent by the agent
type MessageHandler func(ctx context.Context, msg Message)

// Hub joins every connector into one room namespace. It is the room source
// of the inactivity scheduler and the transport of the behaviors. Only
// messages from others count as activity; the agent talking to itself does
// not end a silence.
type Hub struct {
	activity   *rooms.ActivityTracker
	connectors map[string]Connector
	networks   []string
	now        func() time.Time

	mu       sync.RWMutex
	ctx      context.Context
	handlers []MessageHandler
}

func NewHub(activity *rooms.ActivityTracker, conns ...Connector) (*Hub, error) {
	h := &Hub{
		activity:   activity,
		connectors: make(map[string]Connector, len(conns)),
		now:        time.Now,
		ctx:        context.Background(),
	}
	for _, c := range conns {
		network := c.Network()
		if _, exists := h.connectors[network]; exists {
			return nil, fmt.Errorf("duplicate connector for network %q", network)
		}
		h.connectors[network] = c
		h.networks = append(h.networks, network)
	}
	return h, nil
}

// Handle registers a handler for inbound messages. Handlers run in their
// own goroutine so slow lookups never hold up the transport.
func (h *Hub) Handle(fn MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers = append(h.handlers, fn)
}

func (h *Hub) Networks() []string {
	return slices.Clone(h.networks)
}

// Start starts every connector. A connector that fails to start is logged
// and skipped; the error lists all failures.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	var errs []error
	for _, network := range h.networks {
		if err := h.connectors[network].Start(ctx, h); err != nil {
			xlog.Error("Failed to start connector", "network", network, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", network, err))
			continue
		}
		xlog.Info("Connector started", "network", network)
	}
	return errors.Join(errs...)
}

// OccupiedRooms returns every occupied room across networks. Any connector
// error fails the whole listing, so rooms of a network that is briefly
// unreachable are not mistaken for rooms that were left. Rooms listed for
// the first time get a starting point for their silence.
func (h *Hub) OccupiedRooms(ctx context.Context) ([]string, error) {
	var all []string
	for _, network := range h.networks {
		c := h.connectors[network]
		list, err := c.Rooms(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s rooms: %w", network, err)
		}
		for _, r := range list {
			h.seed(ctx, c, r)
			all = append(all, Qualify(network, r))
		}
	}
	return xstrings.UniqueSlice(all), nil
}

// seed records the last message of a room nothing was observed in yet,
// falling back to now when the network cannot tell.
func (h *Hub) seed(ctx context.Context, c Connector, room string) {
	qualified := Qualify(c.Network(), room)
	if _, known := h.activity.Latest(qualified); known {
		return
	}

	var at time.Time
	if reader, ok := c.(HistoryReader); ok {
		last, err := reader.LastMessage(ctx, room)
		if err != nil {
			xlog.Warn("Failed to read room history, measuring silence from now", "room", qualified, "error", err)
		}
		at = last
	}
	if at.IsZero() {
		at = h.now()
	}
	h.activity.Touch(qualified, at)
	xlog.Debug("Seeded room activity", "room", qualified, "latest", at)
}

// LatestActivity returns the last activity seen in room, zero when unknown
func (h *Hub) LatestActivity(ctx context.Context, room string) (time.Time, error) {
	if _, _, err := h.route(room); err != nil {
		return time.Time{}, err
	}
	latest, _ := h.activity.Latest(room)
	return latest, nil
}

func (h *Hub) PostMessage(ctx context.Context, room, text string) error {
	c, local, err := h.route(room)
	if err != nil {
		return err
	}
	return c.PostMessage(ctx, local, text)
}

func (h *Hub) LeaveRoom(ctx context.Context, room string) error {
	c, local, err := h.route(room)
	if err != nil {
		return err
	}
	if err := c.LeaveRoom(ctx, local); err != nil {
		return err
	}
	h.activity.Forget(room)
	return nil
}

// Reply answers msg where it came from: the room, or the peer of a direct
// message.
func (h *Hub) Reply(ctx context.Context, msg Message, text string) error {
	c, ok := h.connectors[msg.Network]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, msg.Network)
	}
	if msg.Direct {
		return c.PostMessage(ctx, msg.Room, text)
	}
	return h.PostMessage(ctx, Qualify(msg.Network, msg.Room), text)
}

func (h *Hub) OnMessage(msg Message) {
	if msg.Self {
		return
	}
	if !msg.Direct {
		at := msg.At
		if at.IsZero() {
			at = h.now()
		}
		h.activity.Touch(Qualify(msg.Network, msg.Room), at)
	}

	h.mu.RLock()
	handlers := slices.Clone(h.handlers)
	ctx := h.ctx
	h.mu.RUnlock()

	for _, fn := range handlers {
		go fn(ctx, msg)
	}
}

// OnJoin starts the silence clock of a freshly joined room, unless activity
// was already observed.
func (h *Hub) OnJoin(network, room string) {
	qualified := Qualify(network, room)
	if _, known := h.activity.Latest(qualified); !known {
		h.activity.Touch(qualified, h.now())
	}
	xlog.Info("Joined room", "room", qualified)
}

func (h *Hub) OnLeave(network, room string) {
	qualified := Qualify(network, room)
	h.activity.Forget(qualified)
	xlog.Info("Left room", "room", qualified)
}

func (h *Hub) route(room string) (Connector, string, error) {
	network, local, err := SplitRoom(room)
	if err != nil {
		return nil, "", err
	}
	c, ok := h.connectors[network]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return c, local, nil
}
