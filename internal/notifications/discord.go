package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
	wg         sync.WaitGroup
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		body, err := json.Marshal(msg)
		if err != nil {
			d.logger.Printf("discord: failed to marshal message: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Printf("discord: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Printf("discord: failed to send webhook: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
		}
	}()
}

// Wait blocks until in-flight webhooks finish.
func (d *Discord) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// NotifyEscalation posts an escalated turn to the operators channel.
func (d *Discord) NotifyEscalation(ctx context.Context, e Escalation) {
	color := 0xFFA500 // Orange
	content := ""
	if e.Urgency == "emergency" {
		color = 0xFF0000 // Red
		content = "@here"
	}
	d.send(ctx, discordMessage{
		Content: content,
		Embeds: []discordEmbed{{
			Title:       "Потрібен оператор",
			Description: e.Transcript,
			Color:       color,
			Fields: []embedField{
				{Name: "Сесія", Value: fmt.Sprintf("`%s`", e.SessionID), Inline: true},
				{Name: "Категорія", Value: e.Problem, Inline: true},
				{Name: "Виконавець", Value: e.Executor, Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

// NotifyCapacityReached posts when a call was refused at the session ceiling.
func (d *Discord) NotifyCapacityReached(ctx context.Context, active, limit int) {
	d.send(ctx, discordMessage{
		Content: "@here",
		Embeds: []discordEmbed{{
			Title:       "Ліміт сесій вичерпано",
			Description: "Новий дзвінок відхилено, усі лінії зайняті.",
			Color:       0xFF0000, // Red
			Fields: []embedField{
				{Name: "Активні", Value: fmt.Sprint(active), Inline: true},
				{Name: "Ліміт", Value: fmt.Sprint(limit), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}
