package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"runq/internal/config"
)

const userAgent = "Runq/0.1.0"

// Service defines the notification surface exposed to the runner and CLI.
type Service interface {
	NotifyRunStarted(ctx context.Context, pending int) error
	NotifyJobFinished(ctx context.Context, label string, succeeded, failed int) error
	NotifyRunSummary(ctx context.Context, completed, partial, failed int, elapsed time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
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
		runStart:    cfg.Notifications.RunStart,
		jobFinished: cfg.Notifications.JobFinished,
		runSummary:  cfg.Notifications.RunSummary,
		errors:      cfg.Notifications.Errors,
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
	runStart    bool
	jobFinished bool
	runSummary  bool
	errors      bool
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, pending int) error {
	if !n.runStart {
		return nil
	}
	noun := "jobs"
	if pending == 1 {
		noun = "job"
	}
	data := payload{
		title:   "runq - Run Started",
		message: fmt.Sprintf("Draining queue with %d %s pending", pending, noun),
		tags:    []string{"runq", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFinished(ctx context.Context, label string, succeeded, failed int) error {
	if !n.jobFinished {
		return nil
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = "(unlabeled job)"
	}
	total := succeeded + failed

	var data payload
	switch {
	case failed == 0:
		data = payload{
			title:   "runq - Job Complete",
			message: fmt.Sprintf("✅ %s: all %d sources succeeded", label, total),
			tags:    []string{"runq", "job", "completed"},
		}
	case succeeded > 0:
		data = payload{
			title:    "runq - Job Partial",
			message:  fmt.Sprintf("⚠️ %s: %d of %d sources succeeded", label, succeeded, total),
			tags:     []string{"runq", "job", "partial"},
			priority: "high",
		}
	default:
		data = payload{
			title:    "runq - Job Failed",
			message:  fmt.Sprintf("❌ %s: all %d sources failed", label, total),
			tags:     []string{"runq", "job", "failed"},
			priority: "high",
		}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunSummary(ctx context.Context, completed, partial, failed int, elapsed time.Duration) error {
	if !n.runSummary {
		return nil
	}
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	jobs := completed + partial + failed
	noun := "jobs"
	if jobs == 1 {
		noun = "job"
	}

	var title, message string
	if partial == 0 && failed == 0 {
		title = "runq - Run Complete"
		message = fmt.Sprintf("✅ Drained %d %s in %s", jobs, noun, elapsed)
	} else {
		title = "runq - Run Complete (with errors)"
		message = fmt.Sprintf("Drained %d %s in %s: %d completed, %d partial, %d failed",
			jobs, noun, elapsed, completed, partial, failed)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"runq", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "runq - Error",
		message:  builder.String(),
		tags:     []string{"runq", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "runq - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"runq", "test"},
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

func (noopService) NotifyRunStarted(context.Context, int) error               { return nil }
func (noopService) NotifyJobFinished(context.Context, string, int, int) error { return nil }
func (noopService) NotifyRunSummary(context.Context, int, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error          { return nil }
