package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"nightshift/internal/config"
	"nightshift/internal/ledger"
)

const userAgent = "nightshift/0.1.0"

// Service defines the notification surface used by the scheduler.
type Service interface {
	NotifyRunCompleted(ctx context.Context, session ledger.RunSession) error
	NotifyRunDeferred(ctx context.Context, session ledger.RunSession) error
	NotifyRetryExhausted(ctx context.Context, path string, cause error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
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
		toggles:  cfg.Notifications,
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
	toggles  config.Notifications
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, session ledger.RunSession) error {
	if !n.toggles.RunSummary {
		return nil
	}
	data := payload{
		title:   "nightshift - Backup Complete",
		message: runSummary(session),
		tags:    []string{"nightshift", "backup", "completed"},
	}
	switch {
	case session.Status == ledger.RunNoFiles:
		data.title = "nightshift - Nothing To Back Up"
		data.priority = "low"
	case session.Failed > 0:
		data.title = "nightshift - Backup Complete (with errors)"
		data.tags = append(data.tags, "warning")
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunDeferred(ctx context.Context, session ledger.RunSession) error {
	if !n.toggles.RunSummary {
		return nil
	}
	message := fmt.Sprintf("Backup for %s deferred: %s", session.RunDate, string(session.Status))
	if reason := strings.TrimSpace(session.Message); reason != "" {
		message += "\n" + reason
	}
	data := payload{
		title:   "nightshift - Backup Deferred",
		message: message,
		tags:    []string{"nightshift", "backup", "deferred"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRetryExhausted(ctx context.Context, path string, cause error) error {
	if !n.toggles.RetryExhausted {
		return nil
	}
	message := fmt.Sprintf("Giving up on %s until reset", strings.TrimSpace(path))
	if cause != nil {
		message += "\nLast error: " + strings.TrimSpace(cause.Error())
	}
	data := payload{
		title:    "nightshift - Retries Exhausted",
		message:  message,
		tags:     []string{"nightshift", "retry", "exhausted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.toggles.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "nightshift - Error",
		message:  builder.String(),
		tags:     []string{"nightshift", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "nightshift - Test",
		message:  "Notification system test",
		tags:     []string{"nightshift", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func runSummary(session ledger.RunSession) string {
	if session.Status == ledger.RunNoFiles {
		return fmt.Sprintf("No files needed backing up for %s", session.RunDate)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d files backed up for %s", session.Success, session.Total, session.RunDate)
	if session.Uploaded > 0 {
		fmt.Fprintf(&b, "\n%d uploaded (%s)", session.Uploaded, humanize.Bytes(uint64(max(session.BytesUploaded, 0))))
	}
	if session.Failed > 0 {
		fmt.Fprintf(&b, "\n%d failed", session.Failed)
	}
	if session.Deleted > 0 {
		fmt.Fprintf(&b, "\n%d originals removed", session.Deleted)
	}
	if session.EndedAt != nil && !session.StartedAt.IsZero() {
		elapsed := session.EndedAt.Sub(session.StartedAt).Round(time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		fmt.Fprintf(&b, "\nTook %s", elapsed)
	}
	return b.String()
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

func (noopService) NotifyRunCompleted(context.Context, ledger.RunSession) error { return nil }
func (noopService) NotifyRunDeferred(context.Context, ledger.RunSession) error  { return nil }
func (noopService) NotifyRetryExhausted(context.Context, string, error) error   { return nil }
func (noopService) NotifyError(context.Context, error, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }
