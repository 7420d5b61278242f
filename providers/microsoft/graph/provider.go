package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/transport"
)

const (
	ProviderID     = "microsoft_graph"
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// MaxLifetime is the longest expiration Graph accepts for message resources.
	MaxLifetime = 10070 * time.Minute
)

type Config struct {
	BaseURL     string
	TokenSource transport.TokenSource
	Client      transport.HTTPDoer
	// Lifetime defaults to MaxLifetime and is clamped to it.
	Lifetime time.Duration
	// Folder is the mail folder watched for new messages. Defaults to Inbox.
	Folder string
	Now    func() time.Time
	// ClientState returns the shared secret echoed back on notifications.
	ClientState func() string
}

type Provider struct {
	cfg  Config
	rest *transport.RESTAdapter
}

func New(cfg Config) (*Provider, error) {
	if cfg.TokenSource == nil {
		return nil, configError("graph: token source is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Lifetime <= 0 || cfg.Lifetime > MaxLifetime {
		cfg.Lifetime = MaxLifetime
	}
	if strings.TrimSpace(cfg.Folder) == "" {
		cfg.Folder = "Inbox"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.ClientState == nil {
		cfg.ClientState = randomClientState
	}
	return &Provider{cfg: cfg, rest: transport.NewRESTAdapter(cfg.Client)}, nil
}

func (p *Provider) ID() string { return ProviderID }

type subscriptionRequest struct {
	ChangeType         string `json:"changeType,omitempty"`
	NotificationURL    string `json:"notificationUrl,omitempty"`
	Resource           string `json:"resource,omitempty"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState,omitempty"`
}

type subscriptionResponse struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState"`
}

func (p *Provider) Subscribe(ctx context.Context, req core.MailboxSubscribeRequest) (core.MailboxSubscriptionResult, error) {
	mailbox := strings.TrimSpace(req.MailboxAddress)
	if mailbox == "" {
		return core.MailboxSubscriptionResult{}, configError("graph: mailbox address is required")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return core.MailboxSubscriptionResult{}, configError("graph: callback url is required")
	}
	token, err := p.cfg.TokenSource(ctx, req.TenantID, mailbox)
	if err != nil {
		return core.MailboxSubscriptionResult{}, err
	}
	clientState := p.cfg.ClientState()
	var out subscriptionResponse
	_, err = p.rest.DoJSON(ctx, transport.JSONCall{
		Operation: "graph.subscribe",
		Method:    http.MethodPost,
		URL:       p.cfg.BaseURL + "/subscriptions",
		Token:     token,
		In: subscriptionRequest{
			ChangeType:         "created",
			NotificationURL:    req.CallbackURL,
			Resource:           p.resource(mailbox),
			ExpirationDateTime: p.expiry().Format(time.RFC3339),
			ClientState:        clientState,
		},
		Out: &out,
	})
	if err != nil {
		return core.MailboxSubscriptionResult{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return core.MailboxSubscriptionResult{}, goerrors.New("graph: subscription response missing id", goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ErrorProviderFailure)
	}
	return p.result(out, clientState), nil
}

func (p *Provider) Renew(ctx context.Context, subscription core.MailboxSubscription) (core.MailboxSubscriptionResult, error) {
	id := strings.TrimSpace(subscription.RemoteSubscriptionID)
	if id == "" {
		return core.MailboxSubscriptionResult{}, configError("graph: remote subscription id is required")
	}
	token, err := p.cfg.TokenSource(ctx, subscription.TenantID, subscription.MailboxAddress)
	if err != nil {
		return core.MailboxSubscriptionResult{}, err
	}
	var out subscriptionResponse
	_, err = p.rest.DoJSON(ctx, transport.JSONCall{
		Operation: "graph.renew",
		Method:    http.MethodPatch,
		URL:       p.cfg.BaseURL + "/subscriptions/" + url.PathEscape(id),
		Token:     token,
		In:        subscriptionRequest{ExpirationDateTime: p.expiry().Format(time.RFC3339)},
		Out:       &out,
	})
	if err != nil {
		return core.MailboxSubscriptionResult{}, err
	}
	if out.ID == "" {
		out.ID = id
	}
	clientState, _ := subscription.Metadata["client_state"].(string)
	return p.result(out, clientState), nil
}

// Cancel treats a 404 as already cancelled.
func (p *Provider) Cancel(ctx context.Context, subscription core.MailboxSubscription) error {
	id := strings.TrimSpace(subscription.RemoteSubscriptionID)
	if id == "" {
		return nil
	}
	token, err := p.cfg.TokenSource(ctx, subscription.TenantID, subscription.MailboxAddress)
	if err != nil {
		return err
	}
	res, err := p.rest.DoJSON(ctx, transport.JSONCall{
		Operation: "graph.cancel",
		Method:    http.MethodDelete,
		URL:       p.cfg.BaseURL + "/subscriptions/" + url.PathEscape(id),
		Token:     token,
	})
	if err != nil && res.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (p *Provider) result(out subscriptionResponse, clientState string) core.MailboxSubscriptionResult {
	expires, err := time.Parse(time.RFC3339Nano, out.ExpirationDateTime)
	if err != nil {
		expires = p.expiry()
	}
	metadata := map[string]any{"resource": out.Resource}
	if clientState != "" {
		metadata["client_state"] = clientState
	}
	return core.MailboxSubscriptionResult{
		RemoteSubscriptionID: out.ID,
		ExpiresAt:            expires.UTC(),
		Metadata:             metadata,
	}
}

func (p *Provider) expiry() time.Time {
	return p.cfg.Now().Add(p.cfg.Lifetime).UTC().Truncate(time.Second)
}

func (p *Provider) resource(mailbox string) string {
	return "users/" + mailbox + "/mailFolders('" + p.cfg.Folder + "')/messages"
}

func randomClientState() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

func configError(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

var _ core.MailboxProvider = (*Provider)(nil)
