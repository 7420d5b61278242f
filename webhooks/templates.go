package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// ProviderWebhookTemplate bundles the verifier and normalizer for one
// inbound mail provider.
type ProviderWebhookTemplate struct {
	Provider   string
	Verifier   Verifier
	Normalizer Normalizer
}

// Processor builds a processor for the template that hands emails to inbound.
func (t ProviderWebhookTemplate) Processor(inbound InboundProcessor) *Processor {
	return NewProcessor(t.Verifier, t.Normalizer, inbound)
}

type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req Request) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
	default:
		decoded, err = hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req Request) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("webhooks: verification token is required")
	}
	actual := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if actual == "" {
		return fmt.Errorf("webhooks: %s verification header is required", strings.TrimSpace(v.Header))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: verification token mismatch")
	}
	return nil
}

// NewMIMEWebhookTemplate accepts raw RFC 822 messages signed with an
// X-Outreach-Signature HMAC-SHA256 header (hex).
func NewMIMEWebhookTemplate(provider string, secret string) ProviderWebhookTemplate {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "mime"
	}
	return ProviderWebhookTemplate{
		Provider: provider,
		Verifier: HeaderHMACVerifier{
			Header:   "X-Outreach-Signature",
			Prefix:   "sha256=",
			Secret:   strings.TrimSpace(secret),
			Encoding: "hex",
		},
		Normalizer: RFC822Normalizer{},
	}
}

// NewJSONWebhookTemplate accepts the JSON inbound shape decoded by
// JSONNormalizer, authenticated by a shared token header.
func NewJSONWebhookTemplate(provider string, header string, token string) ProviderWebhookTemplate {
	header = strings.TrimSpace(header)
	if header == "" {
		header = "X-Outreach-Token"
	}
	return ProviderWebhookTemplate{
		Provider: strings.TrimSpace(provider),
		Verifier: HeaderTokenVerifier{
			Header: header,
			Token:  strings.TrimSpace(token),
		},
		Normalizer: JSONNormalizer{},
	}
}
