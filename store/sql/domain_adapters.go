package sqlstore

import (
	"time"

	"github.com/goliatone/go-outreach/core"
)

func newThreadRecord(in core.CreateThreadInput, now time.Time) *threadRecord {
	return &threadRecord{
		TenantID:                  in.TenantID,
		CampaignID:                in.CampaignID,
		ContactID:                 in.ContactID,
		OriginalOutboundMessageID: in.OutboundMessageID,
		MessageID:                 in.MessageID,
		ProviderThreadID:          in.ProviderThreadID,
		IsActive:                  true,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

func (r *threadRecord) toDomain() core.EmailThread {
	return core.EmailThread{
		ID:                        r.ID,
		TenantID:                  r.TenantID,
		CampaignID:                r.CampaignID,
		ContactID:                 r.ContactID,
		OriginalOutboundMessageID: r.OriginalOutboundMessageID,
		MessageID:                 r.MessageID,
		ProviderThreadID:          r.ProviderThreadID,
		IsActive:                  r.IsActive,
		ReplyCount:                r.ReplyCount,
		LastReplyAt:               cloneTimePointer(r.LastReplyAt),
		CreatedAt:                 r.CreatedAt.UTC(),
		UpdatedAt:                 r.UpdatedAt.UTC(),
	}
}

func newInboundMessageRecord(msg core.InboundMessage, now time.Time) *inboundMessageRecord {
	method := msg.MatchMethod
	if method == "" {
		method = core.MatchMethodNone
	}
	confidence := msg.MatchConfidence
	if confidence == "" {
		confidence = core.ConfidenceLow
	}
	return &inboundMessageRecord{
		Provider:          msg.Provider,
		ProviderMessageID: msg.ProviderMessageID,
		TenantID:          msg.TenantID,
		Channel:           string(msg.Channel),
		FromEmail:         msg.FromEmail,
		ToEmail:           msg.ToEmail,
		Subject:           msg.Subject,
		MessageID:         msg.MessageID,
		InReplyTo:         msg.InReplyTo,
		References:        msg.References,
		ProviderThreadID:  msg.ProviderThreadID,
		ConversationID:    msg.ConversationID,
		ReceivedAt:        msg.ReceivedAt.UTC(),
		MatchMethod:       string(method),
		MatchConfidence:   string(confidence),
		CreatedAt:         now,
	}
}

func (r *inboundMessageRecord) toDomain() core.InboundMessage {
	return core.InboundMessage{
		ID:                r.ID,
		Provider:          r.Provider,
		ProviderMessageID: r.ProviderMessageID,
		TenantID:          r.TenantID,
		Channel:           core.Channel(r.Channel),
		FromEmail:         r.FromEmail,
		ToEmail:           r.ToEmail,
		Subject:           r.Subject,
		MessageID:         r.MessageID,
		InReplyTo:         r.InReplyTo,
		References:        r.References,
		ProviderThreadID:  r.ProviderThreadID,
		ConversationID:    r.ConversationID,
		ReceivedAt:        r.ReceivedAt.UTC(),
		MatchedThreadID:   r.MatchedThreadID,
		MatchMethod:       core.MatchMethod(r.MatchMethod),
		MatchConfidence:   core.MatchConfidence(r.MatchConfidence),
		Processed:         r.Processed,
		ProcessedAt:       cloneTimePointer(r.ProcessedAt),
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

func newOutboundMessageRecord(in core.QueueOutboundInput, now time.Time) *outboundMessageRecord {
	state := in.State
	if state == "" {
		state = core.OutboundStateQueued
	}
	return &outboundMessageRecord{
		TenantID:         in.TenantID,
		CampaignID:       in.CampaignID,
		ContactID:        in.ContactID,
		Channel:          string(in.Channel),
		RecipientAddress: in.RecipientAddress,
		Subject:          in.Subject,
		DedupeKey:        in.DedupeKey,
		State:            string(state),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (r *outboundMessageRecord) toDomain() core.OutboundMessage {
	return core.OutboundMessage{
		ID:                r.ID,
		TenantID:          r.TenantID,
		CampaignID:        r.CampaignID,
		ContactID:         r.ContactID,
		Channel:           core.Channel(r.Channel),
		RecipientAddress:  r.RecipientAddress,
		Subject:           r.Subject,
		DedupeKey:         r.DedupeKey,
		State:             core.OutboundState(r.State),
		ProviderMessageID: r.ProviderMessageID,
		MessageID:         r.MessageID,
		SentAt:            cloneTimePointer(r.SentAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func newScheduledActionRecord(in core.CreateActionInput, now time.Time) *scheduledActionRecord {
	return &scheduledActionRecord{
		TenantID:          in.TenantID,
		CampaignID:        in.CampaignID,
		OutboundMessageID: in.OutboundMessageID,
		ActionType:        string(in.ActionType),
		Payload:           copyAnyMap(in.Payload),
		ScheduledAt:       in.ScheduledAt.UTC(),
		Status:            string(core.ActionStatusPending),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *scheduledActionRecord) toDomain() core.ScheduledAction {
	return core.ScheduledAction{
		ID:                r.ID,
		TenantID:          r.TenantID,
		CampaignID:        r.CampaignID,
		OutboundMessageID: r.OutboundMessageID,
		ActionType:        core.ActionType(r.ActionType),
		Payload:           copyAnyMap(r.Payload),
		ScheduledAt:       r.ScheduledAt.UTC(),
		Status:            core.ActionStatus(r.Status),
		AttemptCount:      r.AttemptCount,
		LastError:         r.LastError,
		ClaimedAt:         cloneTimePointer(r.ClaimedAt),
		CompletedAt:       cloneTimePointer(r.CompletedAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func newReplyEventRecord(event core.ReplyEvent, now time.Time) *replyEventRecord {
	eventType := event.Type
	if eventType == "" {
		eventType = core.ReplyEventType
	}
	return &replyEventRecord{
		OutboundMessageID: event.OutboundMessageID,
		TenantID:          event.TenantID,
		EventType:         eventType,
		EventAt:           event.EventAt.UTC(),
		InboundMessageID:  event.InboundMessageID,
		Source:            event.Source,
		Data:              copyAnyMap(event.Data),
		CreatedAt:         now,
	}
}

func (r *replyEventRecord) toDomain() core.ReplyEvent {
	return core.ReplyEvent{
		ID:                r.ID,
		OutboundMessageID: r.OutboundMessageID,
		TenantID:          r.TenantID,
		Type:              r.EventType,
		EventAt:           r.EventAt.UTC(),
		InboundMessageID:  r.InboundMessageID,
		Source:            r.Source,
		Data:              copyAnyMap(r.Data),
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

func newMailboxSubscriptionRecord(in core.UpsertMailboxSubscriptionInput, now time.Time) *mailboxSubscriptionRecord {
	return &mailboxSubscriptionRecord{
		TenantID:             in.TenantID,
		Provider:             in.Provider,
		MailboxAddress:       in.MailboxAddress,
		RemoteSubscriptionID: in.RemoteSubscriptionID,
		CallbackURL:          in.CallbackURL,
		Status:               string(in.Status),
		ExpiresAt:            in.ExpiresAt.UTC(),
		LastRenewedAt:        cloneTimePointer(in.LastRenewedAt),
		Metadata:             copyAnyMap(in.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (r *mailboxSubscriptionRecord) toDomain() core.MailboxSubscription {
	return core.MailboxSubscription{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		Provider:             r.Provider,
		MailboxAddress:       r.MailboxAddress,
		RemoteSubscriptionID: r.RemoteSubscriptionID,
		CallbackURL:          r.CallbackURL,
		Status:               core.SubscriptionStatus(r.Status),
		ExpiresAt:            r.ExpiresAt.UTC(),
		LastRenewedAt:        cloneTimePointer(r.LastRenewedAt),
		LastError:            r.LastError,
		Metadata:             copyAnyMap(r.Metadata),
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
