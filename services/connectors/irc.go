package connectors

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/pkg/xstrings"
	"github.com/mudler/xlog"
	irc "github.com/thoj/go-ircevent"
)

const NetworkIRC = "irc"

type IRC struct {
	server        string
	port          string
	nickname      string
	channels      []string
	useTLS        bool
	maxLength     int
	floodInterval time.Duration

	mu      sync.Mutex
	conn    *irc.Connection
	members *rooms.Membership
}

// NewIRC creates a new IRC connector with the given configuration
// - server, port: IRC server address
// - nickname: bot nickname
// - channels: comma separated channels to join on connect
func NewIRC(cfg map[string]string) (*IRC, error) {
	resolved, err := config.Resolve(IRCConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}

	maxLength, _ := strconv.Atoi(resolved["maxLength"])
	floodInterval, _ := time.ParseDuration(resolved["floodInterval"])
	useTLS, _ := strconv.ParseBool(resolved["tls"])

	return &IRC{
		server:        resolved["server"],
		port:          resolved["port"],
		nickname:      resolved["nickname"],
		channels:      config.List(resolved["channels"]),
		useTLS:        useTLS,
		maxLength:     maxLength,
		floodInterval: floodInterval,
		members:       rooms.NewMembership(),
	}, nil
}

func (i *IRC) Network() string {
	return NetworkIRC
}

func (i *IRC) currentNick() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.conn == nil {
		return i.nickname
	}
	return i.conn.GetNick()
}

func (i *IRC) connection() (*irc.Connection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.conn == nil {
		return nil, ErrNotConnected
	}
	return i.conn, nil
}

// Start connects to the IRC server and starts listening for messages
func (i *IRC) Start(ctx context.Context, sink Sink) error {
	conn := irc.IRC(i.nickname, i.nickname)
	if conn == nil {
		return fmt.Errorf("failed to create IRC client")
	}
	conn.UseTLS = i.useTLS
	if i.useTLS {
		conn.TLSConfig = &tls.Config{ServerName: i.server}
	}

	conn.AddCallback("001", func(e *irc.Event) {
		xlog.Info("Connected to IRC server", "server", i.server)
		i.rejoin(conn.Join)
	})

	// the server refused a join: no such channel, full, invite only,
	// banned, bad key
	for _, code := range []string{"403", "471", "473", "474", "475"} {
		conn.AddCallback(code, func(e *irc.Event) {
			if len(e.Arguments) < 2 {
				return
			}
			xlog.Warn("Cannot join channel", "channel", e.Arguments[1], "reason", e.Message())
			i.left(sink, e.Arguments[1])
		})
	}

	conn.AddCallback("JOIN", func(e *irc.Event) {
		if e.Nick != conn.GetNick() || len(e.Arguments) == 0 {
			return
		}
		channel := e.Arguments[0]
		if i.members.Join(channel) {
			sink.OnJoin(NetworkIRC, channel)
		}
	})

	conn.AddCallback("PART", func(e *irc.Event) {
		if e.Nick != conn.GetNick() || len(e.Arguments) == 0 {
			return
		}
		i.left(sink, e.Arguments[0])
	})

	conn.AddCallback("KICK", func(e *irc.Event) {
		if len(e.Arguments) < 2 || e.Arguments[1] != conn.GetNick() {
			return
		}
		xlog.Warn("Kicked from channel", "channel", e.Arguments[0], "by", e.Nick)
		i.left(sink, e.Arguments[0])
	})

	conn.AddCallback("INVITE", func(e *irc.Event) {
		if len(e.Arguments) < 2 {
			return
		}
		xlog.Info("Invited to channel", "channel", e.Arguments[1], "by", e.Nick)
		conn.Join(e.Arguments[1])
	})

	conn.AddCallback("PRIVMSG", func(e *irc.Event) {
		if len(e.Arguments) == 0 {
			return
		}
		target := e.Arguments[0]
		msg := Message{
			Network: NetworkIRC,
			Room:    target,
			Sender:  e.Nick,
			Text:    e.Message(),
			At:      time.Now(),
			Self:    e.Nick == conn.GetNick(),
		}
		if target == conn.GetNick() {
			msg.Room = e.Nick
			msg.Direct = true
		}
		sink.OnMessage(msg)
	})

	if err := conn.Connect(i.server + ":" + i.port); err != nil {
		return fmt.Errorf("failed to connect to IRC server: %w", err)
	}

	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()

	go conn.Loop()
	go func() {
		<-ctx.Done()
		xlog.Info("Disconnecting from IRC server", "server", i.server)
		conn.Quit()
	}()
	return nil
}

// rejoin joins the configured channels and every channel occupied before a
// reconnect. Membership is kept across the drop so the rooms keep their
// silence clock and trigger state; channels the server refuses are dropped
// by the join error callbacks.
func (i *IRC) rejoin(join func(channel string)) {
	for _, ch := range xstrings.UniqueSlice(append(i.members.List(), i.channels...)) {
		join(ch)
	}
}

func (i *IRC) left(sink Sink, channel string) {
	if i.members.Leave(channel) {
		sink.OnLeave(NetworkIRC, channel)
	}
}

func (i *IRC) Rooms(ctx context.Context) ([]string, error) {
	if _, err := i.connection(); err != nil {
		return nil, err
	}
	return i.members.List(), nil
}

// PostMessage sends text to a channel, one line at a time. IRC has no
// multi-line messages and servers truncate long lines.
func (i *IRC) PostMessage(ctx context.Context, room, text string) error {
	conn, err := i.connection()
	if err != nil {
		return err
	}
	if strings.HasPrefix(room, "#") && !i.members.Has(room) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, room)
	}

	for n, line := range xstrings.SplitMessage(text, i.maxLength) {
		if n > 0 {
			// Small delay to prevent flooding
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(i.floodInterval):
			}
		}
		conn.Privmsg(room, line)
	}
	return nil
}

func (i *IRC) LeaveRoom(ctx context.Context, room string) error {
	conn, err := i.connection()
	if err != nil {
		return err
	}
	if !i.members.Has(room) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, room)
	}
	conn.Part(room)
	i.members.Leave(room)
	return nil
}

// IRCConfigMeta returns the metadata for IRC connector configuration fields
func IRCConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:     "server",
			Label:    "IRC Server",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:         "port",
			Label:        "IRC Port",
			Type:         config.FieldTypeNumber,
			DefaultValue: "6667",
		},
		{
			Name:     "nickname",
			Label:    "Nickname",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:     "channels",
			Label:    "Channels",
			HelpText: "Comma separated, e.g. #go,#chat",
			Type:     config.FieldTypeList,
		},
		{
			Name:  "tls",
			Label: "Use TLS",
			Type:  config.FieldTypeCheckbox,
		},
		{
			Name:         "maxLength",
			Label:        "Max line length",
			HelpText:     "Longer replies are split over several lines",
			Type:         config.FieldTypeNumber,
			DefaultValue: "400",
		},
		{
			Name:         "floodInterval",
			Label:        "Delay between lines",
			Type:         config.FieldTypeDuration,
			DefaultValue: "500ms",
		},
	}
}
