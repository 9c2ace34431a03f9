package webui

import (
	"github.com/mudler/roomkeeper/core/inactivity"
	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/core/sse"
)

type Config struct {
	Scheduler *inactivity.Scheduler
	Rooms     inactivity.RoomSource
	Tags      rooms.TagStore
	Events    *sse.Broadcaster
	ApiKeys   []string
}

type Option func(*Config)

func WithScheduler(s *inactivity.Scheduler) Option {
	return func(c *Config) {
		c.Scheduler = s
	}
}

// WithRooms sets where occupied rooms and their activity are read from
func WithRooms(source inactivity.RoomSource) Option {
	return func(c *Config) {
		c.Rooms = source
	}
}

func WithTags(tags rooms.TagStore) Option {
	return func(c *Config) {
		c.Tags = tags
	}
}

// WithEvents enables the dispatch event stream
func WithEvents(b *sse.Broadcaster) Option {
	return func(c *Config) {
		c.Events = b
	}
}

// WithApiKeys protects the API. Without keys every request is accepted.
func WithApiKeys(keys ...string) Option {
	return func(c *Config) {
		c.ApiKeys = keys
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{}
	c.Apply(opts...)
	return c
}
