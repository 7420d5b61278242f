package gmail

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/transport"
)

const (
	ProviderID     = "google_gmail"
	DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	// WatchTTL is the lifetime Gmail grants a watch when it does not report one.
	WatchTTL = 7 * 24 * time.Hour
)

type Config struct {
	// TopicName is the Pub/Sub topic, e.g. projects/acme/topics/gmail-push.
	TopicName   string
	LabelIDs    []string
	BaseURL     string
	TokenSource transport.TokenSource
	Client      transport.HTTPDoer
	Now         func() time.Time
}

type Provider struct {
	cfg  Config
	rest *transport.RESTAdapter
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.TopicName) == "" {
		return nil, configError("gmail: topic name is required")
	}
	if cfg.TokenSource == nil {
		return nil, configError("gmail: token source is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.LabelIDs) == 0 {
		cfg.LabelIDs = []string{"INBOX"}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Provider{cfg: cfg, rest: transport.NewRESTAdapter(cfg.Client)}, nil
}

func (p *Provider) ID() string { return ProviderID }

type watchRequest struct {
	TopicName           string   `json:"topicName"`
	LabelIDs            []string `json:"labelIds,omitempty"`
	LabelFilterBehavior string   `json:"labelFilterBehavior,omitempty"`
}

type watchResponse struct {
	HistoryID  string `json:"historyId"`
	Expiration string `json:"expiration"`
}

func (p *Provider) Subscribe(ctx context.Context, req core.MailboxSubscribeRequest) (core.MailboxSubscriptionResult, error) {
	return p.watch(ctx, req.TenantID, req.MailboxAddress)
}

// Renew re-issues users.watch; Gmail replaces the existing watch in place.
func (p *Provider) Renew(ctx context.Context, subscription core.MailboxSubscription) (core.MailboxSubscriptionResult, error) {
	return p.watch(ctx, subscription.TenantID, subscription.MailboxAddress)
}

func (p *Provider) Cancel(ctx context.Context, subscription core.MailboxSubscription) error {
	token, err := p.cfg.TokenSource(ctx, subscription.TenantID, subscription.MailboxAddress)
	if err != nil {
		return err
	}
	_, err = p.rest.DoJSON(ctx, transport.JSONCall{
		Operation: "gmail.stop",
		Method:    http.MethodPost,
		URL:       p.userURL(subscription.MailboxAddress) + "/stop",
		Token:     token,
	})
	return err
}

func (p *Provider) watch(ctx context.Context, tenantID string, mailbox string) (core.MailboxSubscriptionResult, error) {
	mailbox = strings.TrimSpace(mailbox)
	if mailbox == "" {
		return core.MailboxSubscriptionResult{}, configError("gmail: mailbox address is required")
	}
	token, err := p.cfg.TokenSource(ctx, tenantID, mailbox)
	if err != nil {
		return core.MailboxSubscriptionResult{}, err
	}
	var out watchResponse
	_, err = p.rest.DoJSON(ctx, transport.JSONCall{
		Operation: "gmail.watch",
		Method:    http.MethodPost,
		URL:       p.userURL(mailbox) + "/watch",
		Token:     token,
		In: watchRequest{
			TopicName:           p.cfg.TopicName,
			LabelIDs:            p.cfg.LabelIDs,
			LabelFilterBehavior: "include",
		},
		Out: &out,
	})
	if err != nil {
		return core.MailboxSubscriptionResult{}, err
	}
	return core.MailboxSubscriptionResult{
		// Gmail has one watch per mailbox, so the mailbox is the remote id.
		RemoteSubscriptionID: "gmail:" + strings.ToLower(mailbox),
		ExpiresAt:            p.expiration(out.Expiration),
		Metadata: map[string]any{
			"history_id": out.HistoryID,
			"topic_name": p.cfg.TopicName,
		},
	}, nil
}

// expiration parses Gmail's epoch-millisecond string.
func (p *Provider) expiration(raw string) time.Time {
	millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || millis <= 0 {
		return p.cfg.Now().Add(WatchTTL).UTC()
	}
	return time.UnixMilli(millis).UTC()
}

func (p *Provider) userURL(mailbox string) string {
	return p.cfg.BaseURL + "/users/" + url.PathEscape(strings.TrimSpace(mailbox))
}

func configError(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

var _ core.MailboxProvider = (*Provider)(nil)
