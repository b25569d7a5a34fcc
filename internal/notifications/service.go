package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"subbatch/internal/batch"
	"subbatch/internal/config"
)

const userAgent = "Subbatch/0.1.0"

// Service defines the notification surface exposed to the batch runner.
type Service interface {
	NotifyBatchStarted(ctx context.Context, count, concurrency int) error
	NotifyBatchCompleted(ctx context.Context, stats batch.Stats, duration time.Duration) error
	NotifyJobFailed(ctx context.Context, sourcePath, message string) error
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

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		batchEvents: cfg.Notifications.Batch,
		errorEvents: cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	batchEvents bool
	errorEvents bool
}

func (n *ntfyService) NotifyBatchStarted(ctx context.Context, count, concurrency int) error {
	if !n.batchEvents {
		return nil
	}
	data := payload{
		title:   "Subbatch - Batch Started",
		message: fmt.Sprintf("Started translating %d files (%d at a time)", count, concurrency),
		tags:    []string{"subbatch", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, stats batch.Stats, duration time.Duration) error {
	if !n.batchEvents {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title string
	var message string
	switch {
	case stats.Failed == 0 && stats.Cancelled == 0:
		title = "Subbatch - Batch Complete"
		message = fmt.Sprintf("Batch complete: %d files translated in %s", stats.Completed, durationText)
	case stats.Cancelled > 0:
		title = "Subbatch - Batch Stopped"
		message = fmt.Sprintf("Batch stopped: %d translated, %d failed, %d cancelled in %s",
			stats.Completed, stats.Failed, stats.Cancelled, durationText)
	default:
		title = "Subbatch - Batch Complete (with errors)"
		message = fmt.Sprintf("Batch complete: %d translated, %d failed in %s",
			stats.Completed, stats.Failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"subbatch", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, sourcePath, message string) error {
	if !n.errorEvents {
		return nil
	}
	sourcePath = strings.TrimSpace(sourcePath)
	data := payload{
		title:    "Subbatch - Translation Failed",
		message:  fmt.Sprintf("Failed: %s\n%s", sourcePath, strings.TrimSpace(message)),
		tags:     []string{"subbatch", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Subbatch - Test",
		message:  "Notification system test",
		tags:     []string{"subbatch", "test"},
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

func (noopService) NotifyBatchStarted(context.Context, int, int) error { return nil }

func (noopService) NotifyBatchCompleted(context.Context, batch.Stats, time.Duration) error {
	return nil
}

func (noopService) NotifyJobFailed(context.Context, string, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
