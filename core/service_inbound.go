package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const unknownProvider = "unknown"

// ProcessInbound attributes an inbound message to an outreach thread. The
// message row is reserved before matching so every delivery leaves an audit
// record, and a redelivery of a processed message is a no-op.
func (s *Service) ProcessInbound(ctx context.Context, email InboundEmail) (outcome InboundOutcome, err error) {
	startedAt := time.Now().UTC()
	email = normalizeInboundEmail(email)
	fields := map[string]any{
		"provider":            email.Provider,
		"provider_message_id": email.ProviderMessageID,
		"channel":             string(email.Channel),
	}
	if email.TenantID != "" {
		fields["tenant_id"] = email.TenantID
	}
	defer func() {
		fields["kind"] = string(outcome.Kind)
		if outcome.Match.Method != "" {
			fields["match_method"] = string(outcome.Match.Method)
		}
		if outcome.InboundMessageID != "" {
			fields["inbound_message_id"] = outcome.InboundMessageID
		}
		s.observeOperation(ctx, startedAt, "process_inbound", err, fields)
	}()

	if s == nil || s.inboundStore == nil {
		return InboundOutcome{}, s.mapError(fmt.Errorf("core: inbound message store is required"))
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = s.clock()
	}

	stored, created, err := s.inboundStore.Reserve(ctx, inboundMessageFromEmail(email))
	if err != nil {
		return InboundOutcome{}, s.mapError(err)
	}
	outcome.InboundMessageID = stored.ID
	if !created && stored.Processed {
		duplicate := DuplicateDeliveryError(email.Provider, email.ProviderMessageID)
		s.logDebug(ctx, "inbound message skipped", map[string]any{
			"inbound_message_id": stored.ID,
			"reason":             duplicate.Error(),
		})
		outcome.Kind = InboundKindDuplicate
		outcome.Match = matchFromStored(stored)
		return outcome, nil
	}

	match := s.matcher.Match(ctx, email)
	outcome.Match = match

	commit, err := s.inboundStore.CommitMatch(ctx, CommitMatchInput{
		InboundMessageID: stored.ID,
		Match:            match,
		ReceivedAt:       stored.ReceivedAt,
		ProcessedAt:      s.clock(),
		Source:           email.Provider,
	})
	if err != nil {
		return outcome, s.mapError(err)
	}
	if !commit.Committed {
		s.logDebug(ctx, "inbound message committed by a concurrent delivery", map[string]any{
			"inbound_message_id": stored.ID,
		})
		outcome.Kind = InboundKindDuplicate
		return outcome, nil
	}

	if !match.IsReply {
		outcome.Kind = InboundKindUnrelated
		return outcome, nil
	}
	outcome.Kind = InboundKindReply
	outcome.Recorded = true
	if commit.ReplyEvent != nil {
		outcome.ReplyEventID = commit.ReplyEvent.ID
		s.notifyReplySinks(ctx, *commit.ReplyEvent, match)
	}
	return outcome, nil
}

func (s *Service) notifyReplySinks(ctx context.Context, event ReplyEvent, match MatchResult) {
	for _, sink := range s.replySinks {
		if sink == nil {
			continue
		}
		if err := sink.OnReply(ctx, event, match); err != nil {
			s.logWarn(ctx, "reply event sink failed", map[string]any{
				"reply_event_id": event.ID,
				"tenant_id":      event.TenantID,
				"error":          err.Error(),
			})
		}
	}
}

func normalizeInboundEmail(email InboundEmail) InboundEmail {
	email.Provider = strings.ToLower(strings.TrimSpace(email.Provider))
	if email.Provider == "" {
		email.Provider = unknownProvider
	}
	email.TenantID = strings.TrimSpace(email.TenantID)
	email.Channel = normalizeChannel(email.Channel)
	email.FromEmail = normalizeAddress(email.FromEmail)
	email.ToEmail = normalizeAddress(email.ToEmail)
	email.Subject = strings.TrimSpace(email.Subject)
	email.MessageID = NormalizeMessageID(email.MessageID)
	email.InReplyTo = NormalizeMessageID(email.InReplyTo)
	email.References = strings.TrimSpace(email.References)
	email.ConversationID = strings.TrimSpace(email.ConversationID)
	email.ThreadID = strings.TrimSpace(email.ThreadID)
	email.ProviderMessageID = strings.TrimSpace(email.ProviderMessageID)
	if email.ProviderMessageID == "" {
		email.ProviderMessageID = inboundDigest(email)
	}
	if !email.ReceivedAt.IsZero() {
		email.ReceivedAt = email.ReceivedAt.UTC()
	}
	return email
}

// inboundDigest derives a stable key for providers that omit message ids, so
// redeliveries of the same payload still collapse onto one row.
func inboundDigest(email InboundEmail) string {
	hash := sha256.New()
	for _, part := range []string{
		email.Provider,
		email.FromEmail,
		email.ToEmail,
		email.Subject,
		email.MessageID,
		email.InReplyTo,
		email.ConversationID,
		email.BodyText,
	} {
		hash.Write([]byte(part))
		hash.Write([]byte{0})
	}
	if !email.ReceivedAt.IsZero() {
		hash.Write([]byte(email.ReceivedAt.UTC().Format(time.RFC3339Nano)))
	}
	return "sha256:" + hex.EncodeToString(hash.Sum(nil))
}

func inboundMessageFromEmail(email InboundEmail) InboundMessage {
	return InboundMessage{
		Provider:          email.Provider,
		ProviderMessageID: email.ProviderMessageID,
		TenantID:          email.TenantID,
		Channel:           email.Channel,
		FromEmail:         email.FromEmail,
		ToEmail:           email.ToEmail,
		Subject:           email.Subject,
		MessageID:         email.MessageID,
		InReplyTo:         email.InReplyTo,
		References:        email.References,
		ProviderThreadID:  email.ThreadID,
		ConversationID:    email.ConversationID,
		ReceivedAt:        email.ReceivedAt,
		MatchMethod:       MatchMethodNone,
		MatchConfidence:   ConfidenceLow,
	}
}

func matchFromStored(msg InboundMessage) MatchResult {
	if strings.TrimSpace(msg.MatchedThreadID) == "" {
		return NoMatch()
	}
	return MatchResult{
		IsReply:    true,
		Confidence: msg.MatchConfidence,
		Method:     msg.MatchMethod,
		ThreadID:   msg.MatchedThreadID,
		TenantID:   msg.TenantID,
	}
}

// NewReplyEvent builds the event appended to the campaign event log when an
// inbound message is attributed to a thread.
func NewReplyEvent(inboundMessageID string, match MatchResult, receivedAt time.Time, source string) ReplyEvent {
	return ReplyEvent{
		OutboundMessageID: match.OutboundMessageID,
		TenantID:          match.TenantID,
		Type:              ReplyEventType,
		EventAt:           receivedAt.UTC(),
		InboundMessageID:  inboundMessageID,
		Source:            source,
		Data: map[string]any{
			"inboundMessageId": inboundMessageID,
			"source":           source,
			"matchMethod":      string(match.Method),
			"confidence":       string(match.Confidence),
		},
	}
}
