package connectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/pkg/xstrings"
	"github.com/mudler/xlog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	NetworkSlack = "slack"

	slackMaxMessageLength = 4000
)

type Slack struct {
	appToken string
	botToken string

	mu        sync.RWMutex
	apiClient *slack.Client
	botUserID string
	botID     string
}

func NewSlack(cfg map[string]string) (*Slack, error) {
	resolved, err := config.Resolve(SlackConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}
	return &Slack{
		appToken: resolved["appToken"],
		botToken: resolved["botToken"],
	}, nil
}

// SlackConfigMeta returns the metadata for Slack connector configuration fields
func SlackConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:     "appToken",
			Label:    "App Token",
			HelpText: "Socket mode token, xapp-...",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:     "botToken",
			Label:    "Bot Token",
			HelpText: "xoxb-...",
			Type:     config.FieldTypeText,
			Required: true,
		},
	}
}

func (t *Slack) Network() string {
	return NetworkSlack
}

func (t *Slack) client() (*slack.Client, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.apiClient == nil {
		return nil, "", ErrNotConnected
	}
	return t.apiClient, t.botUserID, nil
}

func (t *Slack) Start(ctx context.Context, sink Sink) error {
	api := slack.New(
		t.botToken,
		slack.OptionAppLevelToken(t.appToken),
	)

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}

	t.mu.Lock()
	t.apiClient = api
	t.botUserID = auth.UserID
	t.botID = auth.BotID
	t.mu.Unlock()

	client := socketmode.New(api)
	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				xlog.Info("Connecting to Slack with Socket Mode...")
			case socketmode.EventTypeConnectionError:
				xlog.Info("Connection failed. Retrying later...")
			case socketmode.EventTypeConnected:
				xlog.Info("Connected to Slack with Socket Mode.")
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					xlog.Debug("Ignored Slack event", "type", evt.Type)
					continue
				}

				client.Ack(*evt.Request)

				if eventsAPIEvent.Type != slackevents.CallbackEvent {
					continue
				}
				t.handleInnerEvent(sink, eventsAPIEvent.InnerEvent)
			}
		}
	}()

	go func() {
		if err := client.RunContext(ctx); err != nil && ctx.Err() == nil {
			xlog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	return nil
}

func (t *Slack) handleInnerEvent(sink Sink, inner slackevents.EventsAPIInnerEvent) {
	t.mu.RLock()
	botUserID, botID := t.botUserID, t.botID
	t.mu.RUnlock()

	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		// edits and deletions are not activity
		if ev.SubType != "" && ev.SubType != "bot_message" {
			return
		}
		sink.OnMessage(Message{
			Network: NetworkSlack,
			Room:    ev.Channel,
			Sender:  ev.User,
			Text:    ev.Text,
			At:      parseSlackTimestamp(ev.TimeStamp),
			Direct:  ev.ChannelType == "im",
			Self:    ev.User == botUserID || (botID != "" && ev.BotID == botID),
		})
	case *slackevents.MemberJoinedChannelEvent:
		if ev.User == botUserID {
			sink.OnJoin(NetworkSlack, ev.Channel)
		}
	case *slackevents.MemberLeftChannelEvent:
		if ev.User == botUserID {
			sink.OnLeave(NetworkSlack, ev.Channel)
		}
	}
}

// parseSlackTimestamp converts a message ts ("1700000000.123456") to a time.
// Unparseable values map to the zero time, which the hub replaces with now.
func parseSlackTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*int64(time.Microsecond))
}

func (t *Slack) Rooms(ctx context.Context) ([]string, error) {
	api, botUserID, err := t.client()
	if err != nil {
		return nil, err
	}

	var list []string
	cursor := ""
	for {
		channels, next, err := api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
			UserID:          botUserID,
			Cursor:          cursor,
			Types:           []string{"public_channel", "private_channel"},
			Limit:           200,
			ExcludeArchived: true,
		})
		if err != nil {
			return nil, fmt.Errorf("listing conversations: %w", err)
		}
		for _, c := range channels {
			list = append(list, c.ID)
		}
		if next == "" {
			return list, nil
		}
		cursor = next
	}
}

// LastMessage returns the time of the newest message in room not posted by
// the agent, looking back a few messages at most.
func (t *Slack) LastMessage(ctx context.Context, room string) (time.Time, error) {
	api, botUserID, err := t.client()
	if err != nil {
		return time.Time{}, err
	}
	t.mu.RLock()
	botID := t.botID
	t.mu.RUnlock()

	history, err := api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: room,
		Limit:     historyDepth,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("reading history: %w", err)
	}
	for _, m := range history.Messages {
		if m.SubType != "" && m.SubType != "bot_message" {
			continue
		}
		if m.User == botUserID || (botID != "" && m.BotID == botID) {
			continue
		}
		return parseSlackTimestamp(m.Timestamp), nil
	}
	return time.Time{}, nil
}

func (t *Slack) PostMessage(ctx context.Context, room, text string) error {
	api, _, err := t.client()
	if err != nil {
		return err
	}
	for _, chunk := range xstrings.SplitMessage(text, slackMaxMessageLength) {
		_, _, err := api.PostMessageContext(ctx, room,
			slack.MsgOptionLinkNames(true),
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("posting message: %w", err)
		}
	}
	return nil
}

func (t *Slack) LeaveRoom(ctx context.Context, room string) error {
	api, _, err := t.client()
	if err != nil {
		return err
	}
	if _, err := api.LeaveConversationContext(ctx, room); err != nil {
		return fmt.Errorf("leaving conversation: %w", err)
	}
	return nil
}
