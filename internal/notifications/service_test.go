package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"playrunaddict/internal/config"
	"playrunaddict/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyEpisodePublished(context.Background(), "Morning Mix", 1200); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsMessages(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "change detected",
			notify: func(svc notifications.Service) error {
				return svc.NotifyChangeDetected(context.Background(), "Morning Mix", "webhook")
			},
			expectTitle:   "PlayrunAddict - Change Detected",
			expectMessage: "Playlist changed: Morning Mix (via webhook)",
			expectTags:    "playrunaddict,change,detected",
		},
		{
			name: "episode published",
			notify: func(svc notifications.Service) error {
				return svc.NotifyEpisodePublished(context.Background(), "Morning Mix", 1200)
			},
			expectTitle:    "PlayrunAddict - Published",
			expectMessage:  "Episode ready: Morning Mix (20m0s)",
			expectTags:     "playrunaddict,publish,completed",
			expectPriority: "high",
		},
		{
			name: "run failed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyRunFailed(context.Background(), "Morning Mix", "encode", errors.New("ffmpeg exited 1"))
			},
			expectTitle:    "PlayrunAddict - Error",
			expectMessage:  "Run failed for Morning Mix (encode): ffmpeg exited 1",
			expectTags:     "playrunaddict,error,alert",
			expectPriority: "high",
		},
		{
			name: "poll completed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyPollCompleted(context.Background(), 3, 2)
			},
			expectTitle:   "PlayrunAddict - Poll Complete",
			expectMessage: "Poll complete: 3 changes observed, 2 admitted",
			expectTags:    "playrunaddict,poll,completed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from failing ntfy endpoint")
	}
}
