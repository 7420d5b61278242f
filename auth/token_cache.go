package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/transport"
)

const defaultRenewBefore = 2 * time.Minute

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// tokenCache holds access tokens until RenewBefore ahead of their expiry.
type tokenCache struct {
	mu          sync.Mutex
	entries     map[string]cachedToken
	renewBefore time.Duration
	now         func() time.Time
}

func newTokenCache(renewBefore time.Duration, now func() time.Time) *tokenCache {
	if renewBefore <= 0 {
		renewBefore = defaultRenewBefore
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &tokenCache{
		entries:     map[string]cachedToken{},
		renewBefore: renewBefore,
		now:         now,
	}
}

func (c *tokenCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(entry.expiresAt.Add(-c.renewBefore)) {
		delete(c.entries, key)
		return "", false
	}
	return entry.accessToken, true
}

func (c *tokenCache) put(key string, token tokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{
		accessToken: token.AccessToken,
		expiresAt:   c.now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchange posts a form-encoded grant to tokenURL and decodes the token body.
func exchange(ctx context.Context, rest *transport.RESTAdapter, operation string, tokenURL string, form url.Values) (tokenResponse, error) {
	res, err := rest.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    tokenURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return tokenResponse{}, err
	}
	if err := transport.StatusError(res, operation); err != nil {
		return tokenResponse{}, err
	}

	var token tokenResponse
	if err := json.Unmarshal(res.Body, &token); err != nil {
		return tokenResponse{}, goerrors.Wrap(err, goerrors.CategoryExternal, "auth: decode token response").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ErrorProviderFailure).
			WithMetadata(map[string]any{"operation": operation})
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return tokenResponse{}, goerrors.New("auth: token response missing access_token", goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ErrorProviderFailure).
			WithMetadata(map[string]any{"operation": operation})
	}
	if token.ExpiresIn <= 0 {
		token.ExpiresIn = int64(time.Hour / time.Second)
	}
	return token, nil
}

func configError(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

func normalizeScopes(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
