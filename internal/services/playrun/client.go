package playrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"playrunaddict/internal/config"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/services"
)

// Podcast is the channel block attached to every episode push.
type Podcast struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	UUID    string `json:"uuid"`
	LogoURL string `json:"logoUrl"`
}

// Episode is one catalog entry. UUID is the stable item key, so pushing a
// new revision of the same playlist repoints the existing entry instead of
// creating a duplicate.
type Episode struct {
	UUID            string  `json:"uuid"`
	Title           string  `json:"title"`
	Published       string  `json:"published"`
	DurationSeconds int     `json:"duration"`
	URL             string  `json:"url"`
	Type            string  `json:"type"`
	Podcast         Podcast `json:"podcast"`
	PodcastUUID     string  `json:"podcast_uuid"`
}

// Client talks to the Playrun API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type tokenFile struct {
	Token string `json:"token"`
}

// NewClient loads the bearer token and builds a catalog client. A missing
// token file is an error: publishing cannot work without it.
func NewClient(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	token, err := loadToken(cfg.Playrun.TokenFile)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Playrun.BaseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logging.NewComponentLogger(logger, "playrun"),
	}, nil
}

func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read playrun token: %w", err)
	}

	var parsed tokenFile
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil && parsed.Token != "" {
		return parsed.Token, nil
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("playrun token file %s is empty", path)
	}
	return token, nil
}

// PublishEpisode pushes one episode to the catalog. A 4xx response means
// the catalog refused the item and retrying the same payload is pointless;
// 5xx responses and transport failures are classified as retryable upload
// failures.
func (c *Client) PublishEpisode(ctx context.Context, episode Episode) error {
	payload, err := json.Marshal(map[string]Episode{"episode": episode})
	if err != nil {
		return services.Wrap(services.ErrCatalogRejected, "publishing", "encode", "marshal episode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/playlist/subscribe", bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrUpload, "publishing", "push", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrUpload, "publishing", "push", "send episode", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.InfoContext(ctx, "episode pushed",
			logging.String("title", episode.Title),
			logging.String("item_key", episode.UUID))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return services.Wrap(services.ErrCatalogRejected, "publishing", "push", detail, nil)
	}
	return services.Wrap(services.ErrUpload, "publishing", "push", detail, nil)
}
