// Package commands answers prefixed chat commands and watches messages for
// content worth describing.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mudler/roomkeeper/services/connectors"
	"github.com/mudler/xlog"
)

var (
	// ErrUsage is returned by commands called with invalid arguments. The
	// router answers with the command's usage.
	ErrUsage = errors.New("invalid usage")

	ErrDuplicateCommand = errors.New("command already registered")
)

const (
	DefaultPrefix  = "!"
	DefaultTimeout = 15 * time.Second

	helpCommand = "help"
)

// Command answers "<prefix><name> <args>"
type Command interface {
	Name() string
	Usage() string
	Description() string
	Run(ctx context.Context, args string) (string, error)
}

// Watcher sees every message that is not a command. It returns an empty
// reply when it has nothing to say.
type Watcher interface {
	Name() string
	Watch(ctx context.Context, text string) (string, error)
}

// Replier delivers answers, connectors.Hub in production
type Replier interface {
	Reply(ctx context.Context, msg connectors.Message, text string) error
}

type Router struct {
	replier Replier
	prefix  string
	timeout time.Duration

	mu       sync.RWMutex
	commands map[string]Command
	watchers []Watcher
}

type RouterOption func(*Router)

func WithPrefix(prefix string) RouterOption {
	return func(r *Router) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithTimeout bounds each command and watcher run
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRouter(replier Replier, opts ...RouterOption) *Router {
	r := &Router{
		replier:  replier,
		prefix:   DefaultPrefix,
		timeout:  DefaultTimeout,
		commands: make(map[string]Command),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Router) Register(c Command) error {
	name := strings.ToLower(c.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists || name == helpCommand {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.commands[name] = c
	return nil
}

func (r *Router) Watch(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.watchers = append(r.watchers, w)
}

// Commands returns the registered commands sorted by name
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	slices.SortFunc(list, func(a, b Command) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return list
}

// Handle processes one inbound message. It matches connectors.MessageHandler.
func (r *Router) Handle(ctx context.Context, msg connectors.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if name, args, ok := r.parse(text); ok {
		r.runCommand(ctx, msg, name, args)
		return
	}

	r.mu.RLock()
	watchers := slices.Clone(r.watchers)
	r.mu.RUnlock()

	for _, w := range watchers {
		r.runWatcher(ctx, msg, w, text)
	}
}

func (r *Router) parse(text string) (name, args string, ok bool) {
	rest, found := strings.CutPrefix(text, r.prefix)
	if !found || rest == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

func (r *Router) runCommand(ctx context.Context, msg connectors.Message, name, args string) {
	if name == helpCommand {
		r.reply(ctx, msg, r.help())
		return
	}

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		xlog.Debug("Unknown command", "command", name, "network", msg.Network, "room", msg.Room)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	xlog.Debug("Running command", "command", name, "sender", msg.Sender, "room", msg.Room)
	answer, err := cmd.Run(ctx, args)
	switch {
	case errors.Is(err, ErrUsage):
		answer = fmt.Sprintf("Usage: %s%s", r.prefix, cmd.Usage())
	case err != nil:
		xlog.Error("Command failed", "command", name, "room", msg.Room, "error", err)
		answer = fmt.Sprintf("Sorry, %s%s failed.", r.prefix, name)
	}
	if answer != "" {
		r.reply(ctx, msg, answer)
	}
}

func (r *Router) runWatcher(ctx context.Context, msg connectors.Message, w Watcher, text string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	answer, err := w.Watch(ctx, text)
	if err != nil {
		xlog.Warn("Watcher failed", "watcher", w.Name(), "room", msg.Room, "error", err)
		return
	}
	if answer != "" {
		r.reply(ctx, msg, answer)
	}
}

func (r *Router) help() string {
	var b strings.Builder
	b.WriteString("Commands: ")
	for n, c := range r.Commands() {
		if n > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s%s (%s)", r.prefix, c.Usage(), c.Description())
	}
	fmt.Fprintf(&b, ", %s%s", r.prefix, helpCommand)
	return b.String()
}

func (r *Router) reply(ctx context.Context, msg connectors.Message, text string) {
	if err := r.replier.Reply(ctx, msg, text); err != nil {
		xlog.Error("Failed to send reply", "network", msg.Network, "room", msg.Room, "error", err)
	}
}
