package core

import (
	"context"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// MatchLookups are the read paths the matching strategies rely on.
type MatchLookups struct {
	Threads  ThreadStore
	Inbound  InboundMessageStore
	Outbound OutboundMessageStore
}

// MatchStrategy is one step of the matching cascade. Find reports ok=false
// to hand over to the next strategy.
type MatchStrategy struct {
	Name       string
	Method     MatchMethod
	Confidence MatchConfidence
	Find       func(ctx context.Context, lookups MatchLookups, email InboundEmail) (thread EmailThread, ok bool, err error)
}

// ReplyMatcher runs strategies in order; the first hit wins.
type ReplyMatcher struct {
	lookups    MatchLookups
	strategies []MatchStrategy
	logger     Logger
}

func NewReplyMatcher(lookups MatchLookups, logger Logger, strategies ...MatchStrategy) *ReplyMatcher {
	if len(strategies) == 0 {
		strategies = DefaultMatchStrategies(DefaultConfig().Matching)
	}
	return &ReplyMatcher{
		lookups:    lookups,
		strategies: append([]MatchStrategy(nil), strategies...),
		logger:     glog.Ensure(logger),
	}
}

// DefaultMatchStrategies returns the cascade ordered by confidence.
func DefaultMatchStrategies(cfg MatchingConfig) []MatchStrategy {
	strategies := []MatchStrategy{
		InReplyToStrategy(),
		ReferencesStrategy(),
		ProviderThreadStrategy(),
		ConversationStrategy(),
	}
	if !cfg.DisableSubjectFallback {
		strategies = append(strategies, SubjectStrategy(cfg.SubjectScanLimit))
	}
	return strategies
}

func (m *ReplyMatcher) Strategies() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.strategies))
	for _, strategy := range m.strategies {
		names = append(names, strategy.Name)
	}
	return names
}

func (m *ReplyMatcher) Match(ctx context.Context, email InboundEmail) MatchResult {
	if m == nil {
		return NoMatch()
	}
	tenantID := strings.TrimSpace(email.TenantID)
	for _, strategy := range m.strategies {
		if strategy.Find == nil {
			continue
		}
		thread, ok, err := strategy.Find(ctx, m.lookups, email)
		if err != nil {
			lookupErr := MatchLookupError(strategy.Method, err)
			logWithLevel(ctx, m.logger, "warn", "reply match lookup failed", map[string]any{
				"strategy":            strategy.Name,
				"provider":            email.Provider,
				"provider_message_id": email.ProviderMessageID,
				"error":               lookupErr.Error(),
			})
			continue
		}
		if !ok || !thread.IsActive {
			continue
		}
		if tenantID != "" && thread.TenantID != tenantID {
			continue
		}
		return MatchResult{
			IsReply:           true,
			Confidence:        strategy.Confidence,
			Method:            strategy.Method,
			ThreadID:          thread.ID,
			OutboundMessageID: thread.OriginalOutboundMessageID,
			CampaignID:        thread.CampaignID,
			ContactID:         thread.ContactID,
			TenantID:          thread.TenantID,
		}
	}
	return NoMatch()
}

func InReplyToStrategy() MatchStrategy {
	return MatchStrategy{
		Name:       "in-reply-to",
		Method:     MatchMethodMessageID,
		Confidence: ConfidenceHigh,
		Find: func(ctx context.Context, lookups MatchLookups, email InboundEmail) (EmailThread, bool, error) {
			id := NormalizeMessageID(email.InReplyTo)
			if id == "" || lookups.Threads == nil {
				return EmailThread{}, false, nil
			}
			return lookups.Threads.FindActiveByMessageID(ctx, email.TenantID, id)
		},
	}
}

func ReferencesStrategy() MatchStrategy {
	return MatchStrategy{
		Name:       "references",
		Method:     MatchMethodMessageID,
		Confidence: ConfidenceHigh,
		Find: func(ctx context.Context, lookups MatchLookups, email InboundEmail) (EmailThread, bool, error) {
			if lookups.Threads == nil {
				return EmailThread{}, false, nil
			}
			for _, id := range ParseReferences(email.References) {
				thread, ok, err := lookups.Threads.FindActiveByMessageID(ctx, email.TenantID, id)
				if err != nil {
					return EmailThread{}, false, err
				}
				if ok {
					return thread, true, nil
				}
			}
			return EmailThread{}, false, nil
		},
	}
}

func ProviderThreadStrategy() MatchStrategy {
	return MatchStrategy{
		Name:       "provider-thread",
		Method:     MatchMethodThreadID,
		Confidence: ConfidenceMedium,
		Find: func(ctx context.Context, lookups MatchLookups, email InboundEmail) (EmailThread, bool, error) {
			threadID := strings.TrimSpace(email.ThreadID)
			if threadID == "" || lookups.Threads == nil {
				return EmailThread{}, false, nil
			}
			return lookups.Threads.FindActiveByProviderThreadID(ctx, email.TenantID, threadID)
		},
	}
}

// ConversationStrategy follows an earlier inbound message of the same
// provider conversation that was already matched to a thread.
func ConversationStrategy() MatchStrategy {
	return MatchStrategy{
		Name:       "conversation",
		Method:     MatchMethodConversationID,
		Confidence: ConfidenceMedium,
		Find: func(ctx context.Context, lookups MatchLookups, email InboundEmail) (EmailThread, bool, error) {
			conversationID := strings.TrimSpace(email.ConversationID)
			if conversationID == "" || lookups.Inbound == nil || lookups.Threads == nil {
				return EmailThread{}, false, nil
			}
			prior, ok, err := lookups.Inbound.FindMatchedByConversationID(ctx, email.TenantID, conversationID)
			if err != nil || !ok || strings.TrimSpace(prior.MatchedThreadID) == "" {
				return EmailThread{}, false, err
			}
			return lookups.Threads.GetActive(ctx, prior.MatchedThreadID)
		},
	}
}

// SubjectStrategy scans recent outbound messages sent to the inbound sender on
// the same channel and accepts the first one whose subject correlates.
func SubjectStrategy(scanLimit int) MatchStrategy {
	if scanLimit <= 0 || scanLimit > MaxSubjectScanLimit {
		scanLimit = MaxSubjectScanLimit
	}
	return MatchStrategy{
		Name:       "subject",
		Method:     MatchMethodSubject,
		Confidence: ConfidenceLow,
		Find: func(ctx context.Context, lookups MatchLookups, email InboundEmail) (EmailThread, bool, error) {
			sender := normalizeAddress(email.FromEmail)
			if sender == "" || NormalizeSubject(email.Subject) == "" {
				return EmailThread{}, false, nil
			}
			if lookups.Outbound == nil || lookups.Threads == nil {
				return EmailThread{}, false, nil
			}
			recent, err := lookups.Outbound.ListRecentByRecipient(ctx, email.TenantID, normalizeChannel(email.Channel), sender, scanLimit)
			if err != nil {
				return EmailThread{}, false, err
			}
			for _, outbound := range recent {
				if normalizeAddress(outbound.RecipientAddress) != sender {
					continue
				}
				if !SubjectsCorrelate(email.Subject, outbound.Subject) {
					continue
				}
				thread, ok, err := lookups.Threads.FindActiveByOutboundMessageID(ctx, outbound.TenantID, outbound.ID)
				if err != nil {
					return EmailThread{}, false, err
				}
				if ok {
					return thread, true, nil
				}
			}
			return EmailThread{}, false, nil
		},
	}
}
