package core

import (
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/schedule"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

func normalizeChannel(value Channel) Channel {
	channel := Channel(strings.ToLower(strings.TrimSpace(string(value))))
	if channel == "" {
		return ChannelEmail
	}
	return channel
}

type ActionType string

const (
	ActionSendEmail    ActionType = "send_email"
	ActionSendSMS      ActionType = "send_sms"
	ActionFollowUp     ActionType = "follow_up"
	ActionAdvanceStep  ActionType = "advance_step"
	ActionStopSequence ActionType = "stop_sequence"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionSendEmail, ActionSendSMS, ActionFollowUp, ActionAdvanceStep, ActionStopSequence:
		return true
	}
	return false
}

type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusProcessing ActionStatus = "processing"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusFailed     ActionStatus = "failed"
	ActionStatusCanceled   ActionStatus = "canceled"
)

func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionStatusCompleted, ActionStatusFailed, ActionStatusCanceled:
		return true
	}
	return false
}

type OutboundState string

const (
	OutboundStateQueued    OutboundState = "queued"
	OutboundStateScheduled OutboundState = "scheduled"
	OutboundStateSent      OutboundState = "sent"
	OutboundStateFailed    OutboundState = "failed"
	OutboundStateCanceled  OutboundState = "canceled"
)

// OutboundTransitionSources lists the states a message may leave to enter
// next. Sent, failed and canceled are terminal.
func OutboundTransitionSources(next OutboundState) []OutboundState {
	switch next {
	case OutboundStateScheduled:
		return []OutboundState{OutboundStateQueued}
	case OutboundStateSent, OutboundStateFailed, OutboundStateCanceled:
		return []OutboundState{OutboundStateQueued, OutboundStateScheduled}
	}
	return nil
}

func (s OutboundState) CanTransitionTo(next OutboundState) bool {
	return slices.Contains(OutboundTransitionSources(next), s)
}

type MatchConfidence string

const (
	ConfidenceHigh   MatchConfidence = "high"
	ConfidenceMedium MatchConfidence = "medium"
	ConfidenceLow    MatchConfidence = "low"
)

type MatchMethod string

const (
	MatchMethodMessageID      MatchMethod = "message-id"
	MatchMethodThreadID       MatchMethod = "thread-id"
	MatchMethodConversationID MatchMethod = "conversation-id"
	MatchMethodSubject        MatchMethod = "subject"
	MatchMethodNone           MatchMethod = "none"
)

// InboundKind classifies how an inbound message relates to outreach threads.
type InboundKind string

const (
	InboundKindReply     InboundKind = "reply"
	InboundKindUnrelated InboundKind = "unrelated"
	InboundKindDuplicate InboundKind = "duplicate"
)

const ReplyEventType = "reply"

type ScheduleSpec = schedule.Spec

type QuietHours = schedule.QuietHours

type ScheduledAction struct {
	ID                string
	TenantID          string
	CampaignID        string
	OutboundMessageID string
	ActionType        ActionType
	Payload           map[string]any
	ScheduledAt       time.Time
	Status            ActionStatus
	AttemptCount      int
	LastError         string
	ClaimedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActionClaim identifies one claim on a processing action. A released and
// re-claimed action carries a new ClaimedAt, which retires the old claim.
type ActionClaim struct {
	ID        string
	ClaimedAt time.Time
}

func (a ScheduledAction) Claim() ActionClaim {
	claim := ActionClaim{ID: a.ID}
	if a.ClaimedAt != nil {
		claim.ClaimedAt = *a.ClaimedAt
	}
	return claim
}

type EmailThread struct {
	ID                        string
	TenantID                  string
	CampaignID                string
	ContactID                 string
	OriginalOutboundMessageID string
	MessageID                 string
	ProviderThreadID          string
	IsActive                  bool
	ReplyCount                int
	LastReplyAt               *time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

type OutboundMessage struct {
	ID                string
	TenantID          string
	CampaignID        string
	ContactID         string
	Channel           Channel
	RecipientAddress  string
	Subject           string
	DedupeKey         string
	State             OutboundState
	ProviderMessageID string
	MessageID         string
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InboundEmail is the provider-neutral shape produced by webhook adapters.
type InboundEmail struct {
	Provider          string
	TenantID          string
	Channel           Channel
	ProviderMessageID string
	FromEmail         string
	ToEmail           string
	Subject           string
	BodyText          string
	BodyHTML          string
	MessageID         string
	InReplyTo         string
	References        string
	ConversationID    string
	ThreadID          string
	ReceivedAt        time.Time
	Raw               map[string]any
}

type InboundMessage struct {
	ID                string
	Provider          string
	ProviderMessageID string
	TenantID          string
	Channel           Channel
	FromEmail         string
	ToEmail           string
	Subject           string
	MessageID         string
	InReplyTo         string
	References        string
	ProviderThreadID  string
	ConversationID    string
	ReceivedAt        time.Time
	MatchedThreadID   string
	MatchMethod       MatchMethod
	MatchConfidence   MatchConfidence
	Processed         bool
	ProcessedAt       *time.Time
	CreatedAt         time.Time
}

type MatchResult struct {
	IsReply           bool
	Confidence        MatchConfidence
	Method            MatchMethod
	ThreadID          string
	OutboundMessageID string
	CampaignID        string
	ContactID         string
	TenantID          string
}

func NoMatch() MatchResult {
	return MatchResult{IsReply: false, Confidence: ConfidenceLow, Method: MatchMethodNone}
}

type ReplyEvent struct {
	ID                string
	OutboundMessageID string
	TenantID          string
	Type              string
	EventAt           time.Time
	InboundMessageID  string
	Source            string
	Data              map[string]any
	CreatedAt         time.Time
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusErrored   SubscriptionStatus = "errored"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// MailboxSubscription tracks a provider push subscription for one mailbox.
type MailboxSubscription struct {
	ID                   string
	TenantID             string
	Provider             string
	MailboxAddress       string
	RemoteSubscriptionID string
	CallbackURL          string
	Status               SubscriptionStatus
	ExpiresAt            time.Time
	LastRenewedAt        *time.Time
	LastError            string
	Metadata             map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// InboundOutcome is returned by ProcessInbound.
type InboundOutcome struct {
	Kind             InboundKind
	InboundMessageID string
	Match            MatchResult
	ReplyEventID     string
	// Recorded is false when a concurrent delivery already committed the reply.
	Recorded bool
}

type DispatchStats struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	Deferred  int
	Released  int
	// Lost counts actions whose claim was taken over before they finished.
	Lost int
}

type RenewalStats struct {
	Scanned      int
	Renewed      int
	Resubscribed int
	Errored      int
	// Deferred counts subscriptions skipped because the tenant breaker was open.
	Deferred int
	// Retried counts errored subscriptions picked up again after their rest.
	Retried int
}
