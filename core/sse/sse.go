// Package sse streams server-sent events to fiber clients.
package sse

import (
	"bufio"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const (
	clientBuffer      = 50
	heartbeatInterval = 15 * time.Second
)

// Envelope is anything that can be written to an event stream
type Envelope interface {
	String() string
}

// Message represents a simple message implementation.
type Message struct {
	Event string
	Data  string
}

// NewMessage returns a new message instance.
func NewMessage(data string) *Message {
	return &Message{Data: data}
}

// WithEvent sets the event name for the message.
func (m *Message) WithEvent(event string) *Message {
	m.Event = event
	return m
}

// String returns the message in wire format. Multi-line data is split over
// several data fields.
func (m *Message) String() string {
	sb := strings.Builder{}

	if m.Event != "" {
		fmt.Fprintf(&sb, "event: %s\n", m.Event)
	}
	for _, line := range strings.Split(m.Data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")
	return sb.String()
}

// Broadcaster fans messages out to every subscribed client and replays
// the most recent ones to clients that connect later.
type Broadcaster struct {
	mu          sync.Mutex
	clients     map[string]chan Envelope
	history     []Envelope
	historySize int
}

func NewBroadcaster(historySize int) *Broadcaster {
	return &Broadcaster{
		clients:     make(map[string]chan Envelope),
		historySize: historySize,
	}
}

// Send delivers message to every client. Clients whose buffer is full miss
// the message rather than slowing the sender down.
func (b *Broadcaster) Send(message Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.historySize > 0 {
		b.history = append(b.history, message)
		if len(b.history) > b.historySize {
			b.history = b.history[len(b.history)-b.historySize:]
		}
	}

	for _, ch := range b.clients {
		select {
		case ch <- message:
		default:
		}
	}
}

// Subscribe registers a client under id, replacing any previous client
// with the same id. The returned function unsubscribes it.
func (b *Broadcaster) Subscribe(id string) (<-chan Envelope, func()) {
	ch := make(chan Envelope, clientBuffer+b.historySize)

	b.mu.Lock()
	if old, exists := b.clients[id]; exists {
		close(old)
	}
	b.clients[id] = ch
	for _, msg := range b.history {
		ch <- msg
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.clients[id] == ch {
				delete(b.clients, id)
				close(ch)
			}
		})
	}
}

// Clients lists the ids of connected clients
func (b *Broadcaster) Clients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	return ids
}

// Handle streams events to the client until it disconnects
func (b *Broadcaster) Handle(c *fiber.Ctx, id string) error {
	ch, unsubscribe := b.Subscribe(id)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // Disable proxy buffering

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		// Send an initial connection message
		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprint(w, msg.String())
			case <-heartbeat.C:
				// a comment line; flushing it detects gone clients
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}
