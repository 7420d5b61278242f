package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-outreach/core"
)

// Request is a raw provider callback before normalization.
type Request struct {
	Provider string
	// TenantID is applied to normalized emails that do not carry one.
	TenantID string
	Headers  map[string]string
	Body     []byte
	Metadata map[string]any
}

type Result struct {
	Accepted   bool
	StatusCode int
	Outcomes   []core.InboundOutcome
	Metadata   map[string]any
}

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// Normalizer turns a provider payload into zero or more inbound emails.
type Normalizer interface {
	Normalize(ctx context.Context, req Request) ([]core.InboundEmail, error)
}

type NormalizerFunc func(ctx context.Context, req Request) ([]core.InboundEmail, error)

func (fn NormalizerFunc) Normalize(ctx context.Context, req Request) ([]core.InboundEmail, error) {
	return fn(ctx, req)
}

// InboundProcessor is implemented by *core.Service.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, email core.InboundEmail) (core.InboundOutcome, error)
}

type Processor struct {
	Verifier   Verifier
	Normalizer Normalizer
	Inbound    InboundProcessor
	Logger     glog.Logger
}

func NewProcessor(verifier Verifier, normalizer Normalizer, inbound InboundProcessor) *Processor {
	return &Processor{
		Verifier:   verifier,
		Normalizer: normalizer,
		Inbound:    inbound,
		Logger:     glog.Nop(),
	}
}

// Process verifies, normalizes and attributes a provider callback. Failures
// while attributing return a 5xx result so the provider redelivers; inbound
// rows are deduped by provider message id, which makes redelivery safe.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if p == nil || p.Normalizer == nil || p.Inbound == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires normalizer and inbound processor")
	}

	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return Result{}, fmt.Errorf("webhooks: provider is required")
	}
	req.Provider = provider

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			p.logger().Warn("webhook verification failed", "provider", provider, "error", err)
			return Result{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"provider": provider,
					"rejected": true,
				},
			}, err
		}
	}

	emails, err := p.Normalizer.Normalize(ctx, req)
	if err != nil {
		return Result{
			Accepted:   false,
			StatusCode: http.StatusBadRequest,
			Metadata: map[string]any{
				"provider": provider,
			},
		}, fmt.Errorf("webhooks: normalize %s payload: %w", provider, err)
	}

	result := Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Outcomes:   make([]core.InboundOutcome, 0, len(emails)),
	}
	counts := map[core.InboundKind]int{}
	for _, email := range emails {
		if strings.TrimSpace(email.Provider) == "" {
			email.Provider = provider
		}
		if strings.TrimSpace(email.TenantID) == "" {
			email.TenantID = strings.TrimSpace(req.TenantID)
		}
		outcome, err := p.Inbound.ProcessInbound(ctx, email)
		if err != nil {
			p.logger().Error("webhook inbound processing failed",
				"provider", provider,
				"provider_message_id", email.ProviderMessageID,
				"error", err,
			)
			result.Accepted = false
			result.StatusCode = http.StatusInternalServerError
			result.Metadata = summarize(provider, counts)
			return result, err
		}
		counts[outcome.Kind]++
		result.Outcomes = append(result.Outcomes, outcome)
	}
	result.Metadata = summarize(provider, counts)
	return result, nil
}

func summarize(provider string, counts map[core.InboundKind]int) map[string]any {
	return map[string]any{
		"provider":   provider,
		"replies":    counts[core.InboundKindReply],
		"unrelated":  counts[core.InboundKindUnrelated],
		"duplicates": counts[core.InboundKindDuplicate],
	}
}

func (p *Processor) logger() glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	return glog.Ensure(p.Logger)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
