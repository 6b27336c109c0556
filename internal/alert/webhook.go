// Package alert sends Discord/Telegram notifications on backend health
// transitions.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tos-network/rpc-gateway/internal/config"
	"github.com/tos-network/rpc-gateway/internal/util"
)

// Retry configuration for outbound webhook delivery.
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

// Notifier sends backend health-transition alerts.
type Notifier struct {
	cfg    *config.WebhookConfig
	client *http.Client
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg *config.WebhookConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyBackendUnhealthy fires when a backend's health flips to unhealthy.
func (n *Notifier) NotifyBackendUnhealthy(label, lastError string) {
	if !n.cfg.Enabled {
		return
	}
	if n.cfg.DiscordURL != "" {
		go n.sendDiscordTransition(label, false, lastError)
	}
	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramTransition(label, false, lastError)
	}
}

// NotifyBackendRecovered fires when a backend's health flips back to
// healthy.
func (n *Notifier) NotifyBackendRecovered(label string) {
	if !n.cfg.Enabled {
		return
	}
	if n.cfg.DiscordURL != "" {
		go n.sendDiscordTransition(label, true, "")
	}
	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramTransition(label, true, "")
	}
}

// DiscordEmbed represents a Discord embed object.
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed.
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed.
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message.
type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds,omitempty"`
}

func (n *Notifier) sendDiscordTransition(label string, healthy bool, lastError string) {
	title := "Backend Unhealthy"
	color := 0xFF0000
	fields := []DiscordField{
		{Name: "Backend", Value: label, Inline: true},
	}
	if healthy {
		title = "Backend Recovered"
		color = 0x00FF00
	} else if lastError != "" {
		fields = append(fields, DiscordField{Name: "Last Error", Value: lastError, Inline: false})
	}

	embed := DiscordEmbed{
		Title:       title,
		Description: fmt.Sprintf("**%s**: %s is now %s", n.cfg.GatewayName, label, healthState(healthy)),
		Color:       color,
		Fields:      fields,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      &DiscordFooter{Text: n.cfg.GatewayName},
	}

	n.sendDiscordMessageWithRetry(DiscordMessage{Embeds: []DiscordEmbed{embed}})
}

func (n *Notifier) sendDiscordMessageWithRetry(msg DiscordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Discord message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(n.cfg.DiscordURL, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}
		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Discord notification after %d attempts: %v", MaxRetries, lastErr)
	}
}

// TelegramMessage represents a Telegram bot message.
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (n *Notifier) sendTelegramTransition(label string, healthy bool, lastError string) {
	title := "Backend Unhealthy"
	if healthy {
		title = "Backend Recovered"
	}

	text := fmt.Sprintf("*%s*\n\nGateway: `%s`\nBackend: `%s`\nStatus: `%s`",
		title, n.cfg.GatewayName, label, healthState(healthy))
	if !healthy && lastError != "" {
		text += fmt.Sprintf("\nLast Error: `%s`", lastError)
	}

	n.sendTelegramMessageWithRetry(text)
}

func (n *Notifier) sendTelegramMessageWithRetry(text string) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Telegram message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}
		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Telegram notification after %d attempts: %v", MaxRetries, lastErr)
	}
}

func healthState(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
