package behavior

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"text/template"
	"time"

	"github.com/mudler/roomkeeper/core/rooms"
)

// DefaultPhrases are posted by FillSilence when none are configured.
var DefaultPhrases = []string{
	"Anyone around?",
	"It's quiet in here... too quiet.",
	"*crickets*",
	"A tumbleweed rolls across {{ .Channel }}.",
	"Happy {{ .Now | date \"Monday\" }}, everyone!",
	"Did everybody fall asleep?",
	"So... how about that weather?",
	"Type !help if you want me to look something up.",
}

// FillSilence posts a random phrase into rooms that went silent.
type FillSilence struct {
	after     time.Duration
	phrases   []*template.Template
	transport Transport
	tags      TagLookup
}

func NewFillSilence(transport Transport, tags TagLookup, after time.Duration, phrases ...string) (*FillSilence, error) {
	if after <= 0 {
		return nil, fmt.Errorf("fill-silence threshold must be positive, got %s", after)
	}
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	templates, err := parseAll(FillSilenceName, phrases)
	if err != nil {
		return nil, err
	}

	return &FillSilence{
		after:     after,
		phrases:   templates,
		transport: transport,
		tags:      tags,
	}, nil
}

func (f *FillSilence) Name() string {
	return FillSilenceName
}

// Threshold declines rooms tagged quiet.
func (f *FillSilence) Threshold(room string) (time.Duration, bool) {
	if f.tags.HasTag(room, rooms.TagQuiet) {
		return 0, false
	}
	return f.after, true
}

func (f *FillSilence) Execute(ctx context.Context, room string) error {
	phrase := f.phrases[rand.IntN(len(f.phrases))]
	text, err := templateExecute(phrase, newMessageData(room))
	if err != nil {
		return fmt.Errorf("rendering phrase: %w", err)
	}
	if text == "" {
		return errors.New("rendered an empty phrase")
	}
	return f.transport.PostMessage(ctx, room, text)
}
