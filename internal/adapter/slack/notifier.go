// Package slack implements a notifier.Notifier for Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/SpendPilot/internal/port/notifier"
)

const providerName = "slack"

// Notifier posts finance alerts to a Slack channel.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, Fields: true}
}

// slackMessage is the Slack Block Kit message payload. Text is the
// notification fallback shown by clients that cannot render blocks.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildMessage(nt *notifier.Notification) slackMessage {
	header := levelTag(nt.Level) + " " + nt.Title
	msg := slackMessage{
		Text: header,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: nt.Message}},
		},
	}

	// Slack allows at most 10 fields per section.
	for start := 0; start < len(nt.Fields); start += 10 {
		end := min(start+10, len(nt.Fields))
		block := slackBlock{Type: "section"}
		for _, f := range nt.Fields[start:end] {
			block.Fields = append(block.Fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", f.Name, f.Value)})
		}
		msg.Blocks = append(msg.Blocks, block)
	}

	if nt.Source != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: "_Source: " + nt.Source + "_"}},
		})
	}
	return msg
}

func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(buildMessage(&nt))
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func levelTag(level string) string {
	switch level {
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[REVIEW]"
	default:
		return "[INFO]"
	}
}
