package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mudler/roomkeeper/pkg/config"
)

const (
	DefaultUrbanDictionaryURL = "https://api.urbandictionary.com/v0/define"

	maxDefinitionLength = 350
)

// Slang looks words up on Urban Dictionary
type Slang struct {
	endpoint string
	client   *http.Client
}

func NewSlang(cfg map[string]string) (*Slang, error) {
	resolved, err := config.Resolve(SlangConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}
	return &Slang{
		endpoint: resolved["endpoint"],
		client:   &http.Client{},
	}, nil
}

func (s *Slang) Name() string        { return "slang" }
func (s *Slang) Usage() string       { return "slang <term>" }
func (s *Slang) Description() string { return "look up a slang term" }

type urbanDefinition struct {
	Word       string `json:"word"`
	Definition string `json:"definition"`
	Example    string `json:"example"`
	ThumbsUp   int    `json:"thumbs_up"`
	Permalink  string `json:"permalink"`
}

func (s *Slang) Run(ctx context.Context, args string) (string, error) {
	term := strings.TrimSpace(args)
	if term == "" {
		return "", ErrUsage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?term="+url.QueryEscape(term), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("urban dictionary returned %s", resp.Status)
	}

	var result struct {
		List []urbanDefinition `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding urban dictionary response: %w", err)
	}
	if len(result.List) == 0 {
		return fmt.Sprintf("No definition found for %q", term), nil
	}

	best := result.List[0]
	for _, d := range result.List[1:] {
		if d.ThumbsUp > best.ThumbsUp {
			best = d
		}
	}
	return fmt.Sprintf("%s: %s", best.Word, truncate(cleanDefinition(best.Definition), maxDefinitionLength)), nil
}

// cleanDefinition drops the [link] brackets and collapses whitespace
func cleanDefinition(s string) string {
	s = strings.NewReplacer("[", "", "]", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

// SlangConfigMeta returns the metadata for the slang command configuration fields
func SlangConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:         "endpoint",
			Label:        "Endpoint",
			Type:         config.FieldTypeText,
			DefaultValue: DefaultUrbanDictionaryURL,
		},
	}
}
