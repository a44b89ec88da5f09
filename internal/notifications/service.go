package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"audiobooker/internal/config"
)

const userAgent = "audiobooker/0.1"

// Service defines the notification surface used by the CLI.
type Service interface {
	NotifyRenderCompleted(ctx context.Context, summary RenderSummary) error
	NotifyRenderFailed(ctx context.Context, bookTitle string, err error, reportPath string) error
	TestNotification(ctx context.Context) error
}

// RenderSummary describes a finished render.
type RenderSummary struct {
	BookTitle  string
	OutputPath string
	Rendered   int
	Cached     int
	Failed     int
	Missing    []int
	Elapsed    time.Duration
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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

func (n *ntfyService) NotifyRenderCompleted(ctx context.Context, s RenderSummary) error {
	title := strings.TrimSpace(s.BookTitle)
	elapsed := s.Elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎧 Audiobook ready: %s\n", title)
	fmt.Fprintf(&b, "%d rendered, %d cached in %s", s.Rendered, s.Cached, elapsed)
	if s.OutputPath != "" {
		fmt.Fprintf(&b, "\nFile: %s", s.OutputPath)
	}

	data := payload{
		title:   "Audiobooker - Complete",
		message: b.String(),
		tags:    []string{"audiobooker", "render", "completed"},
	}
	if s.Failed > 0 || len(s.Missing) > 0 {
		data.title = "Audiobooker - Complete (partial)"
		fmt.Fprintf(&b, "\n%d chapter(s) failed and were left out", max(s.Failed, len(s.Missing)))
		data.message = b.String()
		data.tags = []string{"audiobooker", "render", "partial"}
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRenderFailed(ctx context.Context, bookTitle string, err error, reportPath string) error {
	var b strings.Builder
	b.WriteString("❌ Render failed")
	if bookTitle = strings.TrimSpace(bookTitle); bookTitle != "" {
		b.WriteString(" for ")
		b.WriteString(bookTitle)
	}
	b.WriteString(": ")
	if err != nil {
		b.WriteString(strings.TrimSpace(err.Error()))
	} else {
		b.WriteString("unknown")
	}
	if reportPath != "" {
		b.WriteString("\nReport: ")
		b.WriteString(reportPath)
	}

	data := payload{
		title:    "Audiobooker - Error",
		message:  b.String(),
		tags:     []string{"audiobooker", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Audiobooker - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"audiobooker", "test"},
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

func (noopService) NotifyRenderCompleted(context.Context, RenderSummary) error      { return nil }
func (noopService) NotifyRenderFailed(context.Context, string, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
