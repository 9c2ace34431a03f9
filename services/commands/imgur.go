package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/pkg/xstrings"
	"mvdan.cc/xurls/v2"
)

const DefaultImgurAPI = "https://api.imgur.com/3"

// Imgur watches messages for imgur links and describes what they point to
type Imgur struct {
	clientID string
	api      string
	client   *http.Client
}

func NewImgur(cfg map[string]string) (*Imgur, error) {
	resolved, err := config.Resolve(ImgurConfigMeta(), cfg)
	if err != nil {
		return nil, err
	}
	return &Imgur{
		clientID: resolved["clientID"],
		api:      strings.TrimSuffix(resolved["api"], "/"),
		client:   &http.Client{},
	}, nil
}

func (i *Imgur) Name() string { return "imgur" }

type imgurResource struct {
	kind string // image or album
	id   string
}

// imgurLinks extracts every distinct imgur resource linked from text
func imgurLinks(text string) []imgurResource {
	var found []imgurResource
	for _, raw := range xurls.Relaxed().FindAllString(text, -1) {
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if host != "imgur.com" && host != "i.imgur.com" && host != "m.imgur.com" {
			continue
		}

		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			id := strings.TrimSuffix(parts[0], path.Ext(parts[0]))
			found = append(found, imgurResource{kind: "image", id: id})
		case len(parts) == 2 && (parts[0] == "a" || parts[0] == "gallery"):
			found = append(found, imgurResource{kind: "album", id: parts[1]})
		}
	}
	return xstrings.UniqueSlice(found)
}

func (i *Imgur) Watch(ctx context.Context, text string) (string, error) {
	var answers []string
	for _, res := range imgurLinks(text) {
		answer, err := i.describe(ctx, res)
		if err != nil {
			return "", err
		}
		answers = append(answers, answer)
	}
	return strings.Join(answers, "\n"), nil
}

type imgurData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Views       int    `json:"views"`
	ImagesCount int    `json:"images_count"`
	NSFW        bool   `json:"nsfw"`
}

func (i *Imgur) describe(ctx context.Context, res imgurResource) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/%s", i.api, res.kind, url.PathEscape(res.id)), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Client-ID "+i.clientID)

	resp, err := i.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("imgur returned %s for %s %s", resp.Status, res.kind, res.id)
	}

	var payload struct {
		Data    imgurData `json:"data"`
		Success bool      `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding imgur response: %w", err)
	}
	if !payload.Success {
		return "", fmt.Errorf("imgur lookup of %s %s failed", res.kind, res.id)
	}

	d := payload.Data
	title := d.Title
	if title == "" {
		title = "untitled"
	}

	var details []string
	if res.kind == "album" {
		details = append(details, fmt.Sprintf("%d images", d.ImagesCount))
	} else if d.Width > 0 {
		details = append(details, fmt.Sprintf("%s %dx%d", d.Type, d.Width, d.Height))
	}
	details = append(details, fmt.Sprintf("%d views", d.Views))
	if d.NSFW {
		details = append(details, "NSFW")
	}
	return fmt.Sprintf("imgur: %s [%s]", title, strings.Join(details, ", ")), nil
}

// ImgurConfigMeta returns the metadata for the imgur watcher configuration fields
func ImgurConfigMeta() []config.Field {
	return []config.Field{
		{
			Name:     "clientID",
			Label:    "Client ID",
			HelpText: "Imgur API client id",
			Type:     config.FieldTypeText,
			Required: true,
		},
		{
			Name:         "api",
			Label:        "API URL",
			Type:         config.FieldTypeText,
			DefaultValue: DefaultImgurAPI,
		},
	}
}
