package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"playrunaddict/internal/config"
)

const userAgent = "PlayrunAddict-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyChangeDetected(ctx context.Context, playlistName, source string) error
	NotifyEpisodePublished(ctx context.Context, playlistName string, durationSeconds int) error
	NotifyRunFailed(ctx context.Context, playlistName, errorKind string, err error) error
	NotifyPollCompleted(ctx context.Context, changed, admitted int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyChangeDetected(ctx context.Context, playlistName, source string) error {
	playlistName = strings.TrimSpace(playlistName)
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	data := payload{
		title:   "PlayrunAddict - Change Detected",
		message: fmt.Sprintf("Playlist changed: %s (via %s)", playlistName, source),
		tags:    []string{"playrunaddict", "change", "detected"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyEpisodePublished(ctx context.Context, playlistName string, durationSeconds int) error {
	playlistName = strings.TrimSpace(playlistName)
	duration := (time.Duration(durationSeconds) * time.Second).String()
	data := payload{
		title:    "PlayrunAddict - Published",
		message:  fmt.Sprintf("Episode ready: %s (%s)", playlistName, duration),
		tags:     []string{"playrunaddict", "publish", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, playlistName, errorKind string, err error) error {
	var builder strings.Builder
	builder.WriteString("Run failed")
	if playlistName = strings.TrimSpace(playlistName); playlistName != "" {
		builder.WriteString(" for ")
		builder.WriteString(playlistName)
	}
	if errorKind = strings.TrimSpace(errorKind); errorKind != "" {
		builder.WriteString(" (")
		builder.WriteString(errorKind)
		builder.WriteString(")")
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "PlayrunAddict - Error",
		message:  builder.String(),
		tags:     []string{"playrunaddict", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPollCompleted(ctx context.Context, changed, admitted int) error {
	data := payload{
		title:   "PlayrunAddict - Poll Complete",
		message: fmt.Sprintf("Poll complete: %d changes observed, %d admitted", changed, admitted),
		tags:    []string{"playrunaddict", "poll", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "PlayrunAddict - Test",
		message:  "Notification system test",
		tags:     []string{"playrunaddict", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyChangeDetected(context.Context, string, string) error        { return nil }
func (noopService) NotifyEpisodePublished(context.Context, string, int) error         { return nil }
func (noopService) NotifyRunFailed(context.Context, string, string, error) error      { return nil }
func (noopService) NotifyPollCompleted(context.Context, int, int) error               { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
