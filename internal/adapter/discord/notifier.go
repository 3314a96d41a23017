// Package discord implements a notifier.Notifier for Discord webhooks.
package discord

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

const (
	providerName = "discord"
	maxFields    = 25
)

// Notifier posts finance alerts to a Discord channel.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier with the given webhook URL.
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

// discordWebhook is the Discord webhook payload with embeds.
type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func buildEmbed(nt *notifier.Notification) discordEmbed {
	embed := discordEmbed{
		Title:       nt.Title,
		Description: nt.Message,
		Color:       levelColor(nt.Level),
	}
	for i, f := range nt.Fields {
		if i == maxFields {
			break
		}
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	if nt.Source != "" {
		embed.Footer = &discordFooter{Text: "Source: " + nt.Source}
	}
	return embed
}

func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(discordWebhook{Embeds: []discordEmbed{buildEmbed(&nt)}})
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Discord returns 204 on success
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// levelColor returns Discord embed color integers for alert levels.
func levelColor(level string) int {
	switch level {
	case notifier.LevelError:
		return 0xE74C3C // red
	case notifier.LevelWarning:
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue
	}
}
