package connectors

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/pkg/xstrings"
	"github.com/mudler/xlog"
)

const (
	NetworkDiscord = "discord"

	discordMaxMessageLength = 2000
)

// Discord treats every guild text channel the bot can see as a room. A bot
// cannot leave a single channel, so leaving a room leaves its guild.
type Discord struct {
	token    string
	allowed  []string
	sinkLock sync.Mutex
	sink     Sink

	mu       sync.RWMutex
	session  *discordgo.Session
	channels map[string]string // channel id -> guild id
}

// NewDiscord creates a new Discord connector
// with the given configuration
// - token: Discord token
// - channels: optional allowlist of channel ids to watch
func NewDiscord(cfg map[string]string) (*Discord, error) {
	resolved, err := config.Resolve(DiscordConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}

	token := resolved["token"]
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}

	return &Discord{
		token:    token,
		allowed:  config.List(resolved["channels"]),
		channels: make(map[string]string),
	}, nil
}

func DiscordConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:     "token",
			Label:    "Discord Token",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:     "channels",
			Label:    "Channels",
			HelpText: "Comma separated channel ids. Empty watches every text channel",
			Type:     config.FieldTypeList,
		},
	}
}

func (d *Discord) Network() string {
	return NetworkDiscord
}

func (d *Discord) Start(ctx context.Context, sink Sink) error {
	dg, err := discordgo.New(d.token)
	if err != nil {
		return fmt.Errorf("creating Discord session: %w", err)
	}
	dg.StateEnabled = true

	d.sinkLock.Lock()
	d.sink = sink
	d.sinkLock.Unlock()

	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		d.guildAvailable(g.Guild)
	})
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildDelete) {
		// Unavailable guilds are outages, not removals.
		if g.Unavailable {
			return
		}
		d.guildGone(g.ID, "")
	})
	dg.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelCreate) {
		if c.Type != discordgo.ChannelTypeGuildText || !d.watched(c.ID) {
			return
		}
		d.mu.Lock()
		d.channels[c.ID] = c.GuildID
		d.mu.Unlock()
		sink.OnJoin(NetworkDiscord, c.ID)
	})
	dg.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelDelete) {
		d.mu.Lock()
		_, known := d.channels[c.ID]
		delete(d.channels, c.ID)
		d.mu.Unlock()
		if known {
			sink.OnLeave(NetworkDiscord, c.ID)
		}
	})
	dg.AddHandler(d.messageCreate(sink))

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	// Open a websocket connection to Discord and begin listening.
	if err := dg.Open(); err != nil {
		return fmt.Errorf("opening Discord connection: %w", err)
	}

	d.mu.Lock()
	d.session = dg
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		dg.Close()
		xlog.Info("Discord bot is now stopped.")
	}()
	return nil
}

func (d *Discord) watched(channelID string) bool {
	return len(d.allowed) == 0 || slices.Contains(d.allowed, channelID)
}

func (d *Discord) guildAvailable(g *discordgo.Guild) {
	var joined []string

	d.mu.Lock()
	for _, c := range g.Channels {
		if c.Type != discordgo.ChannelTypeGuildText || !d.watched(c.ID) {
			continue
		}
		if _, known := d.channels[c.ID]; !known {
			joined = append(joined, c.ID)
		}
		d.channels[c.ID] = g.ID
	}
	d.mu.Unlock()

	xlog.Debug("Discord guild available", "guild", g.ID, "channels", len(joined))
	for _, id := range joined {
		d.getSink().OnJoin(NetworkDiscord, id)
	}
}

// guildGone drops every channel of guildID. skip is a channel whose
// departure the caller reports itself.
func (d *Discord) guildGone(guildID, skip string) {
	var gone []string

	d.mu.Lock()
	for channel, guild := range d.channels {
		if guild == guildID {
			delete(d.channels, channel)
			gone = append(gone, channel)
		}
	}
	d.mu.Unlock()

	for _, id := range gone {
		if id != skip {
			d.getSink().OnLeave(NetworkDiscord, id)
		}
	}
}

func (d *Discord) getSink() Sink {
	d.sinkLock.Lock()
	defer d.sinkLock.Unlock()
	return d.sink
}

func (d *Discord) getSession() (*discordgo.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.session == nil {
		return nil, ErrNotConnected
	}
	return d.session, nil
}

func (d *Discord) messageCreate(sink Sink) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}

		direct := m.GuildID == ""
		if !direct {
			d.mu.RLock()
			_, known := d.channels[m.ChannelID]
			d.mu.RUnlock()
			if !known {
				return
			}
		}

		xlog.Debug("Message received", "channel", m.ChannelID, "connector", "discord")

		sink.OnMessage(Message{
			Network: NetworkDiscord,
			Room:    m.ChannelID,
			Sender:  m.Author.Username,
			Text:    removeBotID(s, m.Content),
			At:      m.Timestamp,
			Direct:  direct,
			Self:    s.State.User != nil && m.Author.ID == s.State.User.ID,
		})
	}
}

func removeBotID(s *discordgo.Session, m string) string {
	if s.State.User == nil {
		return m
	}
	return strings.TrimSpace(strings.ReplaceAll(m, "<@"+s.State.User.ID+">", ""))
}

func (d *Discord) Rooms(ctx context.Context) ([]string, error) {
	if _, err := d.getSession(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]string, 0, len(d.channels))
	for channel := range d.channels {
		list = append(list, channel)
	}
	slices.Sort(list)
	return list, nil
}

// LastMessage returns the time of the newest message in room not posted by
// the agent, looking back a few messages at most.
func (d *Discord) LastMessage(ctx context.Context, room string) (time.Time, error) {
	s, err := d.getSession()
	if err != nil {
		return time.Time{}, err
	}
	messages, err := s.ChannelMessages(room, historyDepth, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return time.Time{}, fmt.Errorf("reading history: %w", err)
	}
	for _, m := range messages {
		if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			continue
		}
		return m.Timestamp, nil
	}
	return time.Time{}, nil
}

func (d *Discord) PostMessage(ctx context.Context, room, text string) error {
	s, err := d.getSession()
	if err != nil {
		return err
	}
	for _, chunk := range xstrings.SplitMessage(text, discordMaxMessageLength) {
		if _, err := s.ChannelMessageSend(room, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
	return nil
}

func (d *Discord) LeaveRoom(ctx context.Context, room string) error {
	s, err := d.getSession()
	if err != nil {
		return err
	}

	d.mu.RLock()
	guildID, known := d.channels[room]
	d.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrNotInRoom, room)
	}

	if err := s.GuildLeave(guildID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("leaving guild %s: %w", guildID, err)
	}
	xlog.Info("Left Discord guild", "guild", guildID, "channel", room)
	d.guildGone(guildID, room)
	return nil
}
