package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/transport"
)

// GraphDefaultScope requests every application permission granted to the app.
const GraphDefaultScope = "https://graph.microsoft.com/.default"

type ClientCredentialsConfig struct {
	// TokenURL is the issuer token endpoint, e.g.
	// https://login.microsoftonline.com/{directory}/oauth2/v2.0/token.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	RenewBefore  time.Duration
	Client       transport.HTTPDoer
	Now          func() time.Time
}

// ClientCredentials mints app-only tokens with the OAuth2 client credentials
// grant. One token covers every mailbox the app is consented for.
type ClientCredentials struct {
	config ClientCredentialsConfig
	rest   *transport.RESTAdapter
	cache  *tokenCache
}

func NewClientCredentials(cfg ClientCredentialsConfig) (*ClientCredentials, error) {
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.TokenURL == "" {
		return nil, configError("auth: client credentials token url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, configError("auth: client credentials require client id and secret")
	}
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{GraphDefaultScope}
	}
	return &ClientCredentials{
		config: cfg,
		rest:   transport.NewRESTAdapter(cfg.Client),
		cache:  newTokenCache(cfg.RenewBefore, cfg.Now),
	}, nil
}

func (c *ClientCredentials) Token(ctx context.Context, _ string, _ string) (string, error) {
	key := c.config.ClientID
	if token, ok := c.cache.get(key); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("scope", strings.Join(c.config.Scopes, " "))

	token, err := exchange(ctx, c.rest, "auth.client_credentials", c.config.TokenURL, form)
	if err != nil {
		return "", err
	}
	c.cache.put(key, token)
	return token.AccessToken, nil
}

func (c *ClientCredentials) TokenSource() transport.TokenSource {
	return c.Token
}
