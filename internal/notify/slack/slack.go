// Package slack posts critical-tier conflict events to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/event"
)

const (
	maxTitleLen = 150
	httpTimeout = 10 * time.Second
)

// Notifier sends events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Notify posts an event to the configured Slack webhook.
func (n *Notifier) Notify(ctx context.Context, e *event.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(e))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "fingerprint", e.ContentFingerprint)
	return nil
}

func buildMessage(e *event.Event) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("%s risk %.1f in %s", e.Level(), e.RiskScore, location(e)),
		"blocks": []map[string]any{
			headerBlock(e),
			fieldsBlock(e),
			{"type": "divider"},
			sourceBlock(e),
			contextBlock(e),
		},
	}
}

func headerBlock(e *event.Event) map[string]any {
	text := fmt.Sprintf("%s %s risk: %s", levelEmoji(e.Level()), strings.ToUpper(string(e.Level())), location(e))
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(e *event.Event) map[string]any {
	sentiment := "n/a"
	if e.SentimentIntensity != nil {
		sentiment = fmt.Sprintf("%d", *e.SentimentIntensity)
	}
	driver := "n/a"
	if e.ConflictDriver != nil {
		driver = string(*e.ConflictDriver)
	}
	indicators := "none"
	if len(e.HateSpeechIndicators) > 0 {
		indicators = strings.Join(e.HateSpeechIndicators, ", ")
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Risk score:* %.1f", e.RiskScore)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Event type:* %s", e.EventType)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", e.Severity)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Sentiment:* %s", sentiment)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Driver:* %s", driver)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Hate speech:* %s", indicators)},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func sourceBlock(e *event.Event) map[string]any {
	title := truncate(e.SourceTitle, maxTitleLen)
	if title == "" {
		title = e.SourceURL
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("<%s|%s>", e.SourceURL, escape(title)),
		},
	}
}

func contextBlock(e *event.Event) map[string]any {
	fp := e.ContentFingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("conflictwatch • %s • %s", fp, e.ParsedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func location(e *event.Event) string {
	if e.LGA != "" && e.LGA != event.Unknown {
		return e.LGA + ", " + e.State
	}
	return e.State
}

func levelEmoji(l event.RiskLevel) string {
	switch l {
	case event.LevelCritical:
		return "\U0001f534" // red circle
	case event.LevelHigh:
		return "\U0001f7e0" // orange circle
	case event.LevelMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// escape handles the three characters Slack mrkdwn treats as control.
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return article.Truncate(s, limit-3) + "..."
}
