package connectors

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/pkg/xstrings"
	"github.com/mudler/xlog"
)

const (
	NetworkTelegram = "telegram"

	telegramMaxMessageLength = 4096
)

// Telegram offers no way to list the chats a bot belongs to, so rooms are
// learned from updates, starting from the configured chats.
type Telegram struct {
	token string
	chats []string

	mu      sync.RWMutex
	bot     *bot.Bot
	members *rooms.Membership
}

func NewTelegramConnector(cfg map[string]string) (*Telegram, error) {
	resolved, err := config.Resolve(TelegramConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}

	chats := config.List(resolved["chats"])
	for _, c := range chats {
		if _, err := strconv.ParseInt(c, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: telegram chat %q", ErrInvalidRoom, c)
		}
	}

	return &Telegram{
		token:   resolved["token"],
		chats:   chats,
		members: rooms.NewMembership(),
	}, nil
}

// TelegramConfigMeta returns the metadata for Telegram connector configuration fields
func TelegramConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:     "token",
			Label:    "Telegram Token",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:     "chats",
			Label:    "Chats",
			HelpText: "Comma separated ids of group chats the bot is already in",
			Type:     config.FieldTypeList,
		},
	}
}

func (t *Telegram) Network() string {
	return NetworkTelegram
}

func (t *Telegram) getBot() (*bot.Bot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.bot == nil {
		return nil, ErrNotConnected
	}
	return t.bot, nil
}

func (t *Telegram) Start(ctx context.Context, sink Sink) error {
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			t.handleUpdate(sink, update)
		}),
	}

	b, err := bot.New(t.token, opts...)
	if err != nil {
		return fmt.Errorf("creating Telegram bot: %w", err)
	}

	t.mu.Lock()
	t.bot = b
	t.mu.Unlock()

	for _, chat := range t.chats {
		t.joined(sink, chat)
	}

	go b.Start(ctx)
	return nil
}

func (t *Telegram) handleUpdate(sink Sink, update *models.Update) {
	switch {
	case update.MyChatMember != nil:
		chat := update.MyChatMember.Chat
		if !isGroupChat(chat) {
			return
		}
		id := strconv.FormatInt(chat.ID, 10)
		switch update.MyChatMember.NewChatMember.Type {
		case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
			if t.members.Leave(id) {
				sink.OnLeave(NetworkTelegram, id)
			}
		default:
			t.joined(sink, id)
		}

	case update.Message != nil:
		m := update.Message
		id := strconv.FormatInt(m.Chat.ID, 10)
		direct := !isGroupChat(m.Chat)
		if !direct {
			// a message is proof of membership, even for unseeded chats
			t.joined(sink, id)
		}

		sender := ""
		if m.From != nil {
			sender = m.From.Username
		}
		sink.OnMessage(Message{
			Network: NetworkTelegram,
			Room:    id,
			Sender:  sender,
			Text:    m.Text,
			At:      time.Unix(int64(m.Date), 0),
			Direct:  direct,
		})
	}
}

func (t *Telegram) joined(sink Sink, chat string) {
	if t.members.Join(chat) {
		sink.OnJoin(NetworkTelegram, chat)
	}
}

func isGroupChat(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}

func (t *Telegram) Rooms(ctx context.Context) ([]string, error) {
	if _, err := t.getBot(); err != nil {
		return nil, err
	}
	return t.members.List(), nil
}

func (t *Telegram) PostMessage(ctx context.Context, room, text string) error {
	b, err := t.getBot()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRoom, room)
	}

	for _, chunk := range xstrings.SplitMessage(text, telegramMaxMessageLength) {
		_, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   chunk,
		})
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
	return nil
}

func (t *Telegram) LeaveRoom(ctx context.Context, room string) error {
	b, err := t.getBot()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRoom, room)
	}
	if !t.members.Has(room) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, room)
	}

	if _, err := b.LeaveChat(ctx, &bot.LeaveChatParams{ChatID: chatID}); err != nil {
		return fmt.Errorf("leaving chat: %w", err)
	}
	t.members.Leave(room)
	xlog.Info("Left Telegram chat", "chat", room)
	return nil
}
