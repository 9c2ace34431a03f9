package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/xlog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const NetworkMatrix = "matrix"

type Matrix struct {
	homeserverURL string
	userID        string
	accessToken   string
	autoJoin      bool

	mu     sync.RWMutex
	client *mautrix.Client
}

func NewMatrix(cfg map[string]string) (*Matrix, error) {
	resolved, err := config.Resolve(MatrixConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}

	return &Matrix{
		homeserverURL: resolved["homeserverURL"],
		userID:        resolved["userID"],
		accessToken:   resolved["accessToken"],
		autoJoin:      resolved["autoJoin"] != "false",
	}, nil
}

func (m *Matrix) Network() string {
	return NetworkMatrix
}

func (m *Matrix) getClient() (*mautrix.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

func (m *Matrix) Start(ctx context.Context, sink Sink) error {
	client, err := mautrix.NewClient(m.homeserverURL, id.UserID(m.userID), m.accessToken)
	if err != nil {
		return fmt.Errorf("creating Matrix client: %w", err)
	}
	xlog.Info("Matrix client created", "user", m.userID)

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg := evt.Content.AsMessage()
		if msg == nil {
			return
		}
		sink.OnMessage(Message{
			Network: NetworkMatrix,
			Room:    evt.RoomID.String(),
			Sender:  evt.Sender.String(),
			Text:    msg.Body,
			At:      time.UnixMilli(evt.Timestamp),
			Self:    evt.Sender == client.UserID,
		})
	})

	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if evt.GetStateKey() != client.UserID.String() {
			return
		}
		switch evt.Content.AsMember().Membership {
		case event.MembershipInvite:
			if !m.autoJoin {
				return
			}
			if _, err := client.JoinRoomByID(ctx, evt.RoomID); err != nil {
				xlog.Error("Error joining room", "room", evt.RoomID.String(), "error", err)
			}
		case event.MembershipJoin:
			sink.OnJoin(NetworkMatrix, evt.RoomID.String())
		case event.MembershipLeave, event.MembershipBan:
			sink.OnLeave(NetworkMatrix, evt.RoomID.String())
		}
	})

	// Only the latest event of each room is needed on the initial sync: it
	// seeds the room's activity without replaying the backlog.
	syncer.FilterJSON = &mautrix.Filter{
		Room: mautrix.RoomFilter{
			Timeline: mautrix.FilterPart{
				Limit: 1,
			},
		},
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				xlog.Info("Context cancelled, stopping Matrix sync loop")
				return
			default:
				if err := client.SyncWithContext(ctx); err != nil && ctx.Err() == nil {
					xlog.Error("Error syncing with Matrix homeserver", "error", err)
					time.Sleep(5 * time.Second)
				}
			}
		}
	}()
	return nil
}

func (m *Matrix) Rooms(ctx context.Context) ([]string, error) {
	client, err := m.getClient()
	if err != nil {
		return nil, err
	}
	resp, err := client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing joined rooms: %w", err)
	}

	list := make([]string, 0, len(resp.JoinedRooms))
	for _, r := range resp.JoinedRooms {
		list = append(list, r.String())
	}
	return list, nil
}

func (m *Matrix) PostMessage(ctx context.Context, room, text string) error {
	client, err := m.getClient()
	if err != nil {
		return err
	}
	_, err = client.SendText(ctx, id.RoomID(room), text)
	return err
}

func (m *Matrix) LeaveRoom(ctx context.Context, room string) error {
	client, err := m.getClient()
	if err != nil {
		return err
	}
	_, err = client.LeaveRoom(ctx, id.RoomID(room))
	return err
}

// MatrixConfigMeta returns the metadata for Matrix connector configuration fields
func MatrixConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:     "homeserverURL",
			Label:    "Homeserver URL",
			HelpText: "e.g. http://host.docker.internal:8008",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:     "userID",
			Label:    "User ID",
			HelpText: "e.g. @bot:host",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:     "accessToken",
			Label:    "Access Token",
			HelpText: "Token obtained from _matrix/client/v3/login",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:         "autoJoin",
			Label:        "Accept invites",
			Type:         config.FieldTypeCheckbox,
			DefaultValue: "true",
		},
	}
}
