package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

type jsonInboundMessage struct {
	ProviderMessageID string         `json:"provider_message_id"`
	TenantID          string         `json:"tenant_id"`
	Channel           string         `json:"channel"`
	From              string         `json:"from"`
	To                string         `json:"to"`
	Subject           string         `json:"subject"`
	Text              string         `json:"text"`
	HTML              string         `json:"html"`
	MessageID         string         `json:"message_id"`
	InReplyTo         string         `json:"in_reply_to"`
	References        string         `json:"references"`
	ConversationID    string         `json:"conversation_id"`
	ThreadID          string         `json:"thread_id"`
	ReceivedAt        *time.Time     `json:"received_at"`
	Raw               map[string]any `json:"raw"`
}

type jsonInboundEnvelope struct {
	Messages []jsonInboundMessage `json:"messages"`
}

// JSONNormalizer decodes either a single message object or an envelope of
// the form {"messages": [...]}.
type JSONNormalizer struct{}

func (JSONNormalizer) Normalize(_ context.Context, req Request) ([]core.InboundEmail, error) {
	body := bytes.TrimSpace(req.Body)
	if len(body) == 0 {
		return nil, fmt.Errorf("webhooks: payload is required")
	}

	var envelope jsonInboundEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("webhooks: decode payload: %w", err)
	}
	messages := envelope.Messages
	if len(messages) == 0 {
		var single jsonInboundMessage
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("webhooks: decode payload: %w", err)
		}
		messages = []jsonInboundMessage{single}
	}

	out := make([]core.InboundEmail, 0, len(messages))
	for index, message := range messages {
		if strings.TrimSpace(message.From) == "" {
			return nil, fmt.Errorf("webhooks: message %d has no from address", index)
		}
		email := core.InboundEmail{
			Provider:          req.Provider,
			TenantID:          strings.TrimSpace(message.TenantID),
			Channel:           core.Channel(strings.ToLower(strings.TrimSpace(message.Channel))),
			ProviderMessageID: strings.TrimSpace(message.ProviderMessageID),
			FromEmail:         strings.TrimSpace(message.From),
			ToEmail:           strings.TrimSpace(message.To),
			Subject:           message.Subject,
			BodyText:          message.Text,
			BodyHTML:          message.HTML,
			MessageID:         message.MessageID,
			InReplyTo:         message.InReplyTo,
			References:        message.References,
			ConversationID:    strings.TrimSpace(message.ConversationID),
			ThreadID:          strings.TrimSpace(message.ThreadID),
			Raw:               message.Raw,
		}
		if email.TenantID == "" {
			email.TenantID = req.TenantID
		}
		if message.ReceivedAt != nil {
			email.ReceivedAt = message.ReceivedAt.UTC()
		}
		out = append(out, email)
	}
	return out, nil
}
