package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

// ActionForwarder executes scheduled actions by POSTing them to a sender
// service. 4xx responses fail the action; 429 and 5xx are retried.
type ActionForwarder struct {
	URL   string
	Token string
	REST  *RESTAdapter
}

type forwardedAction struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	CampaignID        string         `json:"campaign_id,omitempty"`
	OutboundMessageID string         `json:"outbound_message_id,omitempty"`
	ActionType        string         `json:"action_type"`
	Payload           map[string]any `json:"payload,omitempty"`
	ScheduledAt       time.Time      `json:"scheduled_at"`
	Attempt           int            `json:"attempt"`
}

func NewActionForwarder(url string, token string, client HTTPDoer) (*ActionForwarder, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("transport: action forwarder url is required")
	}
	return &ActionForwarder{URL: url, Token: strings.TrimSpace(token), REST: NewRESTAdapter(client)}, nil
}

func (f *ActionForwarder) Execute(ctx context.Context, action core.ScheduledAction) error {
	if f == nil || f.REST == nil {
		return fmt.Errorf("transport: action forwarder is not configured")
	}
	_, err := f.REST.DoJSON(ctx, JSONCall{
		Operation: "action." + string(action.ActionType),
		Method:    http.MethodPost,
		URL:       f.URL,
		Token:     f.Token,
		Headers:   map[string]string{"Idempotency-Key": action.ID},
		In: forwardedAction{
			ID:                action.ID,
			TenantID:          action.TenantID,
			CampaignID:        action.CampaignID,
			OutboundMessageID: action.OutboundMessageID,
			ActionType:        string(action.ActionType),
			Payload:           action.Payload,
			ScheduledAt:       action.ScheduledAt.UTC(),
			Attempt:           action.AttemptCount + 1,
		},
	})
	return err
}

var _ core.ActionExecutor = (*ActionForwarder)(nil)
