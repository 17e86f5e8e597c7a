// Package notifier provides the webhook client that delivers quest
// lifecycle notifications to the guild's chat platform.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aimd54/guild-quest-board/internal/config"
	"github.com/aimd54/guild-quest-board/internal/metrics"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

// Payload describes one lifecycle event for the external dispatcher.
type Payload struct {
	GuildID    int64    `json:"guild_id"`
	ChannelID  int64    `json:"channel_id,omitempty"`
	QuestID    string   `json:"quest_id"`
	QuestTitle string   `json:"quest_title"`
	UserID     int64    `json:"user_id"`
	ActorID    int64    `json:"actor_id"`
	Action     string   `json:"action"`
	Outcome    string   `json:"outcome"`
	ProofText  string   `json:"proof_text,omitempty"`
	ProofURLs  []string `json:"proof_urls,omitempty"`
}

// Message is the webhook body format.
type Message struct {
	Channel  string   `json:"channel,omitempty"`
	Username string   `json:"username,omitempty"`
	Text     string   `json:"text,omitempty"`
	Payload  *Payload `json:"payload,omitempty"`
}

// Client posts lifecycle notifications to a webhook. Delivery is best
// effort; failures are logged and counted, never propagated.
type Client struct {
	webhookURL string
	username   string
	enabled    bool
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a new webhook notifier.
func NewClient(cfg *config.NotifierConfig, log *logger.Logger) *Client {
	return &Client{
		webhookURL: cfg.WebhookURL,
		username:   cfg.Username,
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Notify delivers one lifecycle event. Fire and forget from the
// caller's perspective.
func (c *Client) Notify(ctx context.Context, p Payload) {
	if !c.enabled {
		c.log.Debug().Msg("Notifier is disabled, skipping payload")
		return
	}

	msg := Message{
		Username: c.username,
		Text:     renderText(p),
		Payload:  &p,
	}
	if p.ChannelID != 0 {
		msg.Channel = fmt.Sprintf("%d", p.ChannelID)
	}

	if err := c.send(ctx, &msg); err != nil {
		metrics.RecordNotification(p.Action, "error")
		c.log.Error().
			Err(err).
			Str("quest_id", p.QuestID).
			Str("action", p.Action).
			Msg("Failed to deliver notification")
		return
	}

	metrics.RecordNotification(p.Action, "sent")
	c.log.Debug().
		Str("quest_id", p.QuestID).
		Str("action", p.Action).
		Str("outcome", p.Outcome).
		Msg("Delivered notification")
}

func (c *Client) send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// renderText builds the human-readable line shown alongside the
// structured payload.
func renderText(p Payload) string {
	switch p.Action {
	case "create":
		return fmt.Sprintf("New quest **%s** (`%s`) posted", p.QuestTitle, p.QuestID)
	case "accept":
		return fmt.Sprintf("<@%d> accepted quest **%s**", p.UserID, p.QuestTitle)
	case "submit":
		var b strings.Builder
		fmt.Fprintf(&b, "<@%d> submitted completion for **%s**", p.UserID, p.QuestTitle)
		if p.ProofText != "" {
			fmt.Fprintf(&b, "\n> %s", p.ProofText)
		}
		for _, u := range p.ProofURLs {
			fmt.Fprintf(&b, "\n%s", u)
		}
		return b.String()
	case "approve":
		return fmt.Sprintf("Quest **%s** approved for <@%d>", p.QuestTitle, p.UserID)
	case "reject":
		return fmt.Sprintf("Quest **%s** rejected for <@%d>, they may try again", p.QuestTitle, p.UserID)
	case "deactivate":
		return fmt.Sprintf("Quest **%s** (`%s`) has been retired", p.QuestTitle, p.QuestID)
	default:
		return fmt.Sprintf("Quest **%s**: %s", p.QuestTitle, p.Action)
	}
}
