package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TeamsCard is the webhook message envelope wrapping one Adaptive Card.
type TeamsCard struct {
	Type        string           `json:"type"`
	Attachments []cardAttachment `json:"attachments"`
}

type cardAttachment struct {
	ContentType string      `json:"contentType"`
	Content     cardContent `json:"content"`
}

type cardContent struct {
	Schema  string           `json:"$schema"`
	Type    string           `json:"type"`
	Version string           `json:"version"`
	Body    []map[string]any `json:"body"`
}

// BuildCard renders the Adaptive Card for a classified verdict. Rejections
// get Attention styling with the reason in an emphasized container, approvals
// get Good styling, and a case-id mismatch gets a high-visibility warning
// card that spells out that a different case id was answered.
func BuildCard(verdict Verdict, ticket Ticket, redmineURL string) TeamsCard {
	ticketLink := fmt.Sprintf("[Redmine ticket #%d](%s/issues/%d)",
		ticket.ID, strings.TrimRight(redmineURL, "/"), ticket.ID)
	reason := verdict.Reason
	if reason == "" {
		reason = "(no reason given)"
	}

	var container map[string]any
	switch verdict.Outcome {
	case OutcomeRejected:
		container = map[string]any{
			"type": "Container",
			"items": []map[string]any{
				{"type": "TextBlock", "text": "❌ **Ticket rejected**", "size": "Large", "weight": "Bolder", "color": "Attention"},
				{"type": "TextBlock", "text": ticketLink, "wrap": true, "spacing": "Small"},
				{"type": "TextBlock", "text": "Subject: " + ticket.Subject, "wrap": true, "spacing": "Small"},
				{
					"type":  "Container",
					"style": "emphasis",
					"items": []map[string]any{
						{"type": "TextBlock", "text": "Rejection reason", "weight": "Bolder", "color": "Attention"},
						{"type": "TextBlock", "text": reason, "wrap": true, "spacing": "Small"},
					},
					"bleed": true,
				},
			},
			"bleed": true,
		}
	case OutcomeCaseMismatch:
		container = map[string]any{
			"type":  "Container",
			"style": "attention",
			"items": []map[string]any{
				{"type": "TextBlock", "text": "⚠️ **Case id mismatch**", "size": "Large", "weight": "Bolder", "color": "Attention"},
				{"type": "TextBlock", "text": "The review answered a different case id than the one this ticket is about.", "wrap": true, "weight": "Bolder"},
				{"type": "TextBlock", "text": ticketLink, "wrap": true, "spacing": "Small"},
				{"type": "TextBlock", "text": "Subject: " + ticket.Subject, "wrap": true, "spacing": "Small"},
				{"type": "TextBlock", "text": "Detail: " + reason, "wrap": true, "spacing": "Small"},
			},
			"bleed": true,
		}
	default: // OutcomeApproved
		container = map[string]any{
			"type": "Container",
			"items": []map[string]any{
				{"type": "TextBlock", "text": "✅ **Ticket approved**", "size": "Large", "weight": "Bolder", "color": "Good"},
				{"type": "TextBlock", "text": ticketLink, "wrap": true, "spacing": "Small"},
				{"type": "TextBlock", "text": "Subject: " + ticket.Subject, "wrap": true, "spacing": "Small"},
				{"type": "TextBlock", "text": "Reason: " + reason, "wrap": true, "spacing": "Small"},
			},
			"bleed": true,
		}
	}

	return TeamsCard{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: cardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    []map[string]any{container},
			},
		}},
	}
}

// TeamsDeliverer posts cards to the configured incoming webhooks.
type TeamsDeliverer struct {
	cfg    Config
	client *http.Client
	sleep  func(time.Duration) // replaced in tests
}

func NewTeamsDeliverer(cfg Config) *TeamsDeliverer {
	return &TeamsDeliverer{
		cfg:    cfg,
		client: newHTTPClient(cfg.WebhookTimeoutSeconds),
		sleep:  time.Sleep,
	}
}

// Deliver posts one intent's card to its target webhook, retrying twice with
// exponential backoff. Delivery is at-least-once: a success here can still be
// followed by a failed ledger write, in which case the card may be re-sent on
// a later cycle.
func (t *TeamsDeliverer) Deliver(intent NotificationIntent) error {
	webhookURL := t.cfg.TeamsWebhookURL
	if intent.Target == TargetSecondary {
		webhookURL = t.cfg.TeamsWebhookSecondaryURL
	}
	if webhookURL == "" {
		return fmt.Errorf("no webhook configured for target %s", intent.Target)
	}

	body, err := json.Marshal(intent.Card)
	if err != nil {
		return fmt.Errorf("marshaling card: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			t.sleep(time.Duration(1<<attempt) * time.Second)
		}
		lastErr = t.post(webhookURL, body)
		if lastErr == nil {
			return nil
		}
		logrus.Warnf("teams delivery failed (%d/3) target=%s: %v", attempt+1, intent.Target, lastErr)
	}
	return lastErr
}

func (t *TeamsDeliverer) post(webhookURL string, body []byte) error {
	resp, err := t.client.Post(webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return nil
}
