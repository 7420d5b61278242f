package auth

import (
	"context"
	"crypto/rsa"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/transport"
)

const (
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GmailReadonly     = "https://www.googleapis.com/auth/gmail.readonly"
	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
)

type ServiceAccountConfig struct {
	// Email is the service account client_email, used as the assertion issuer.
	Email         string
	PrivateKeyPEM []byte
	KeyID         string
	TokenURL      string
	Scopes        []string
	RenewBefore   time.Duration
	Client        transport.HTTPDoer
	Now           func() time.Time
}

// ServiceAccount exchanges RS256-signed assertions for access tokens using
// domain-wide delegation: the assertion subject is the mailbox being watched.
type ServiceAccount struct {
	config ServiceAccountConfig
	key    *rsa.PrivateKey
	rest   *transport.RESTAdapter
	cache  *tokenCache
	now    func() time.Time
}

func NewServiceAccount(cfg ServiceAccountConfig) (*ServiceAccount, error) {
	cfg.Email = strings.TrimSpace(cfg.Email)
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	if cfg.Email == "" {
		return nil, configError("auth: service account email is required")
	}
	if len(cfg.PrivateKeyPEM) == 0 {
		return nil, configError("auth: service account private key is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "auth: parse service account private key").
			WithTextCode(core.ErrorBadInput)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{GmailReadonly}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ServiceAccount{
		config: cfg,
		key:    key,
		rest:   transport.NewRESTAdapter(cfg.Client),
		cache:  newTokenCache(cfg.RenewBefore, now),
		now:    now,
	}, nil
}

func (s *ServiceAccount) Token(ctx context.Context, _ string, mailbox string) (string, error) {
	subject := strings.ToLower(strings.TrimSpace(mailbox))
	if subject == "" {
		return "", configError("auth: service account token requires a mailbox")
	}
	if token, ok := s.cache.get(subject); ok {
		return token, nil
	}

	assertion, err := s.assertion(subject)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	token, err := exchange(ctx, s.rest, "auth.service_account", s.config.TokenURL, form)
	if err != nil {
		return "", err
	}
	s.cache.put(subject, token)
	return token.AccessToken, nil
}

func (s *ServiceAccount) TokenSource() transport.TokenSource {
	return s.Token
}

func (s *ServiceAccount) assertion(subject string) (string, error) {
	issuedAt := s.now()
	claims := jwt.MapClaims{
		"iss":   s.config.Email,
		"sub":   subject,
		"aud":   s.config.TokenURL,
		"scope": strings.Join(s.config.Scopes, " "),
		"iat":   issuedAt.Unix(),
		"exp":   issuedAt.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "auth: sign service account assertion").
			WithTextCode(core.ErrorProviderFailure)
	}
	return signed, nil
}
