package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"audiobooker/internal/config"
	"audiobooker/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRenderCompleted(context.Background(), notifications.RenderSummary{BookTitle: "Example"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected nil config to yield noop, got %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, got *captured) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectBody     []string
		expectTags     string
		expectPriority string
	}{
		{
			name: "render completed",
			send: func(s notifications.Service) error {
				return s.NotifyRenderCompleted(context.Background(), notifications.RenderSummary{
					BookTitle:  "Dune",
					OutputPath: "/books/dune.m4b",
					Rendered:   10,
					Cached:     2,
					Elapsed:    90*time.Second + 400*time.Millisecond,
				})
			},
			expectTitle: "Audiobooker - Complete",
			expectBody:  []string{"🎧 Audiobook ready: Dune", "10 rendered, 2 cached in 1m30s", "File: /books/dune.m4b"},
			expectTags:  "audiobooker,render,completed",
		},
		{
			name: "partial render",
			send: func(s notifications.Service) error {
				return s.NotifyRenderCompleted(context.Background(), notifications.RenderSummary{
					BookTitle: "Dune",
					Rendered:  9,
					Failed:    1,
					Missing:   []int{4},
				})
			},
			expectTitle:    "Audiobooker - Complete (partial)",
			expectBody:     []string{"1 chapter(s) failed"},
			expectTags:     "audiobooker,render,partial",
			expectPriority: "high",
		},
		{
			name: "render failed",
			send: func(s notifications.Service) error {
				return s.NotifyRenderFailed(context.Background(), "Dune", errors.New("chapter synthesis failed"), "/cache/render_failure_report.json")
			},
			expectTitle:    "Audiobooker - Error",
			expectBody:     []string{"❌ Render failed for Dune: chapter synthesis failed", "Report: /cache/render_failure_report.json"},
			expectTags:     "audiobooker,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Audiobooker - Test",
			expectBody:     []string{"Notification system test"},
			expectTags:     "audiobooker,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got captured
			server := newCaptureServer(t, &got)

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			for _, want := range tc.expectBody {
				if !strings.Contains(got.body, want) {
					t.Fatalf("expected body to contain %q, got %q", want, got.body)
				}
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic is read-only", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "read-only") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}
