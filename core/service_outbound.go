package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type QueueOutboundRequest struct {
	TenantID         string
	CampaignID       string
	ContactID        string
	Channel          Channel
	RecipientAddress string
	Subject          string
	DedupeKey        string
}

func (r QueueOutboundRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.TenantID) == "":
		return badInput("core: tenant id is required")
	case strings.TrimSpace(r.DedupeKey) == "":
		return badInput("core: dedupe key is required")
	case strings.TrimSpace(r.RecipientAddress) == "":
		return badInput("core: recipient address is required")
	case !normalizeChannel(r.Channel).Valid():
		return badInput("core: channel %q is unsupported", r.Channel)
	}
	return nil
}

// QueueOutbound records an outbound message once per (tenant, dedupe key).
// created is false when the key was already queued.
func (s *Service) QueueOutbound(ctx context.Context, req QueueOutboundRequest) (msg OutboundMessage, created bool, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id": req.TenantID,
		"channel":   string(normalizeChannel(req.Channel)),
	}
	defer func() {
		fields["created"] = created
		s.observeOperation(ctx, startedAt, "queue_outbound", err, fields)
	}()

	if s == nil || s.outboundStore == nil {
		return OutboundMessage{}, false, s.mapError(fmt.Errorf("core: outbound message store is required"))
	}
	if err = req.Validate(); err != nil {
		return OutboundMessage{}, false, s.mapError(err)
	}
	msg, created, err = s.outboundStore.Enqueue(ctx, QueueOutboundInput{
		TenantID:         strings.TrimSpace(req.TenantID),
		CampaignID:       strings.TrimSpace(req.CampaignID),
		ContactID:        strings.TrimSpace(req.ContactID),
		Channel:          normalizeChannel(req.Channel),
		RecipientAddress: normalizeAddress(req.RecipientAddress),
		Subject:          strings.TrimSpace(req.Subject),
		DedupeKey:        strings.TrimSpace(req.DedupeKey),
		State:            OutboundStateQueued,
	})
	if err != nil {
		return OutboundMessage{}, false, s.mapError(err)
	}
	return msg, created, nil
}

type MarkOutboundSentRequest struct {
	OutboundMessageID string
	ProviderMessageID string
	MessageID         string
	ProviderThreadID  string
	SentAt            time.Time
}

// MarkOutboundSent records provider identifiers and, for messages carrying
// an RFC 5322 Message-ID, registers the reply thread.
func (s *Service) MarkOutboundSent(ctx context.Context, req MarkOutboundSentRequest) (msg OutboundMessage, threadID string, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"outbound_message_id": req.OutboundMessageID}
	defer func() {
		if msg.TenantID != "" {
			fields["tenant_id"] = msg.TenantID
		}
		s.observeOperation(ctx, startedAt, "mark_outbound_sent", err, fields)
	}()

	if s == nil || s.outboundStore == nil {
		return OutboundMessage{}, "", s.mapError(fmt.Errorf("core: outbound message store is required"))
	}
	id := strings.TrimSpace(req.OutboundMessageID)
	if id == "" {
		return OutboundMessage{}, "", s.mapError(badInput("core: outbound message id is required"))
	}
	sentAt := req.SentAt
	if sentAt.IsZero() {
		sentAt = s.clock()
	}
	msg, err = s.outboundStore.MarkSent(ctx, MarkSentInput{
		OutboundMessageID: id,
		ProviderMessageID: strings.TrimSpace(req.ProviderMessageID),
		MessageID:         NormalizeMessageID(req.MessageID),
		SentAt:            sentAt.UTC(),
	})
	if err != nil {
		return OutboundMessage{}, "", s.mapError(err)
	}
	if msg.MessageID == "" || s.threadStore == nil {
		return msg, "", nil
	}
	threadID, err = s.CreateEmailThread(ctx, CreateEmailThreadRequest{
		TenantID:          msg.TenantID,
		CampaignID:        msg.CampaignID,
		ContactID:         msg.ContactID,
		OutboundMessageID: msg.ID,
		MessageID:         msg.MessageID,
		ProviderThreadID:  req.ProviderThreadID,
	})
	if err != nil {
		return msg, "", err
	}
	return msg, threadID, nil
}

func (s *Service) MarkOutboundFailed(ctx context.Context, outboundMessageID string) error {
	return s.updateOutboundState(ctx, outboundMessageID, OutboundStateFailed)
}

func (s *Service) CancelOutbound(ctx context.Context, outboundMessageID string) error {
	return s.updateOutboundState(ctx, outboundMessageID, OutboundStateCanceled)
}

func (s *Service) updateOutboundState(ctx context.Context, outboundMessageID string, state OutboundState) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"outbound_message_id": outboundMessageID, "state": string(state)}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_outbound_state", err, fields)
	}()

	if s == nil || s.outboundStore == nil {
		return s.mapError(fmt.Errorf("core: outbound message store is required"))
	}
	outboundMessageID = strings.TrimSpace(outboundMessageID)
	if outboundMessageID == "" {
		return s.mapError(badInput("core: outbound message id is required"))
	}
	if err = s.outboundStore.UpdateState(ctx, outboundMessageID, state); err != nil {
		return s.mapError(err)
	}
	return nil
}
