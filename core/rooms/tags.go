package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Tag is a static label attached to a room and consulted by behaviors.
type Tag string

const (
	// TagHome marks a room the agent must never leave on its own.
	TagHome Tag = "home"
	// TagQuiet marks a room where the agent must not fill silences.
	TagQuiet Tag = "quiet"
)

var ErrInvalidTag = errors.New("invalid tag")

// TagStore defines the interface for room tag lookups and updates.
// Lookups are expected on every scheduler tick, so implementations must be
// cheap and safe for concurrent use.
type TagStore interface {
	// Tags returns the tags of a room, sorted
	Tags(room string) []Tag

	// HasTag reports whether the room carries tag
	HasTag(room string, tag Tag) bool

	// SetTags replaces every tag of a room. An empty list removes the room.
	SetTags(room string, tags []Tag) error

	// AddTag attaches a tag to a room
	AddTag(room string, tag Tag) error

	// RemoveTag detaches a tag from a room
	RemoveTag(room string, tag Tag) error

	// All returns a snapshot of every tagged room
	All() map[string][]Tag
}

// JSONTagStore implements TagStore on top of a JSON file. With an empty
// path it keeps tags in memory only.
type JSONTagStore struct {
	filePath string
	mu       sync.RWMutex
	data     *tagData
}

type tagData struct {
	Rooms map[string][]Tag `json:"rooms"`
}

// ParseTag normalizes user input into a Tag.
func ParseTag(s string) (Tag, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || strings.ContainsAny(s, " \t\n,") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	return Tag(s), nil
}

// NewJSONTagStore creates a tag store persisted at filePath
func NewJSONTagStore(filePath string) (*JSONTagStore, error) {
	store := &JSONTagStore{
		filePath: filePath,
		data: &tagData{
			Rooms: make(map[string][]Tag),
		},
	}

	if filePath == "" {
		return store, nil
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load tag store: %w", err)
		}
		if err := store.save(store.data); err != nil {
			return nil, fmt.Errorf("failed to create tag store file: %w", err)
		}
	}

	return store, nil
}

func (s *JSONTagStore) Tags(room string) []Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.data.Rooms[room])
}

func (s *JSONTagStore) HasTag(room string, tag Tag) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Contains(s.data.Rooms[room], tag)
}

func (s *JSONTagStore) SetTags(room string, tags []Tag) error {
	normalized := make([]Tag, 0, len(tags))
	for _, t := range tags {
		tag, err := ParseTag(string(t))
		if err != nil {
			return err
		}
		normalized = append(normalized, tag)
	}
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(room, normalized)
}

func (s *JSONTagStore) AddTag(room string, tag Tag) error {
	tag, err := ParseTag(string(tag))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.data.Rooms[room]
	if slices.Contains(current, tag) {
		return nil
	}
	updated := append(slices.Clone(current), tag)
	slices.Sort(updated)
	return s.commit(room, updated)
}

func (s *JSONTagStore) RemoveTag(room string, tag Tag) error {
	tag, err := ParseTag(string(tag))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.data.Rooms[room]
	i := slices.Index(current, tag)
	if i < 0 {
		return nil
	}
	return s.commit(room, slices.Delete(slices.Clone(current), i, i+1))
}

// commit replaces the tags of room. The change becomes visible only once it
// is on disk. Callers hold the write lock.
func (s *JSONTagStore) commit(room string, tags []Tag) error {
	next := &tagData{Rooms: maps.Clone(s.data.Rooms)}
	if next.Rooms == nil {
		next.Rooms = make(map[string][]Tag)
	}
	if len(tags) == 0 {
		delete(next.Rooms, room)
	} else {
		next.Rooms[room] = tags
	}

	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *JSONTagStore) All() map[string][]Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string][]Tag, len(s.data.Rooms))
	for room, tags := range s.data.Rooms {
		all[room] = slices.Clone(tags)
	}
	return all
}

// load reads data from the JSON file
func (s *JSONTagStore) load() error {
	file, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	if len(file) == 0 {
		return nil
	}

	if err := json.Unmarshal(file, s.data); err != nil {
		return err
	}
	if s.data.Rooms == nil {
		s.data.Rooms = make(map[string][]Tag)
	}
	return nil
}

// save writes data to the JSON file. The file is replaced atomically so a
// crash mid-write never leaves a truncated store behind.
func (s *JSONTagStore) save(d *tagData) error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	basePath := filepath.Dir(s.filePath)
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(basePath, ".tags-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tags: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	return os.Rename(tmp.Name(), s.filePath)
}
