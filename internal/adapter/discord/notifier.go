// Package discord implements a notifier.Notifier for Discord webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/Strob0t/syncbridge/internal/port/notifier"
)

const providerName = "discord"

// maxEmbedFields is Discord's limit on fields per embed.
const maxEmbedFields = 25

// Notifier sends notifications to Discord via incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier with the given webhook URL. A nil
// client uses http.DefaultClient.
func NewNotifier(webhookURL string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: client,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Threads:        true,
	}
}

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

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	embed := discordEmbed{
		Title:       notification.Title,
		Description: notification.Message,
		Color:       levelColor(notification.Level),
		Fields:      embedFields(notification.Fields),
	}
	if notification.Source != "" {
		embed.Footer = &discordFooter{Text: "Event: " + notification.Source}
	}

	body, err := json.Marshal(discordWebhook{Embeds: []discordEmbed{embed}})
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
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// embedFields renders record context as inline fields in key order.
func embedFields(fields map[string]string) []discordField {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(keys) > maxEmbedFields {
		keys = keys[:maxEmbedFields]
	}
	out := make([]discordField, 0, len(keys))
	for _, k := range keys {
		if fields[k] == "" {
			continue
		}
		out = append(out, discordField{Name: k, Value: fields[k], Inline: true})
	}
	return out
}

// levelColor returns Discord embed color integers for notification levels.
func levelColor(level string) int {
	switch level {
	case "success":
		return 0x2ECC71 // green
	case "error":
		return 0xE74C3C // red
	case "warning":
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue (info)
	}
}
