package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type CreateThreadInput struct {
	TenantID          string
	CampaignID        string
	ContactID         string
	OutboundMessageID string
	MessageID         string
	ProviderThreadID  string
}

// ThreadStore owns EmailThread rows. Finders only return active threads; an
// empty tenant id matches any tenant.
type ThreadStore interface {
	// Create returns the existing thread and created=false on replay.
	Create(ctx context.Context, in CreateThreadInput) (thread EmailThread, created bool, err error)
	Get(ctx context.Context, id string) (EmailThread, error)
	FindActiveByMessageID(ctx context.Context, tenantID string, messageID string) (EmailThread, bool, error)
	FindActiveByProviderThreadID(ctx context.Context, tenantID string, providerThreadID string) (EmailThread, bool, error)
	FindActiveByOutboundMessageID(ctx context.Context, tenantID string, outboundMessageID string) (EmailThread, bool, error)
	GetActive(ctx context.Context, id string) (EmailThread, bool, error)
	// RecordReply increments reply_count and advances last_reply_at in one statement.
	RecordReply(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

type CommitMatchInput struct {
	InboundMessageID string
	Match            MatchResult
	ReceivedAt       time.Time
	ProcessedAt      time.Time
	Source           string
}

type CommitMatchResult struct {
	// Committed is false when another delivery already processed the message.
	Committed  bool
	ReplyEvent *ReplyEvent
}

type InboundMessageStore interface {
	// Reserve inserts the message keyed by (provider, provider_message_id) and
	// returns the stored row with created=false when it already existed.
	Reserve(ctx context.Context, msg InboundMessage) (stored InboundMessage, created bool, err error)
	Get(ctx context.Context, id string) (InboundMessage, error)
	FindMatchedByConversationID(ctx context.Context, tenantID string, conversationID string) (InboundMessage, bool, error)
	// CommitMatch marks the message processed and, for replies, records the
	// reply on the thread and appends the reply event in the same transaction.
	CommitMatch(ctx context.Context, in CommitMatchInput) (CommitMatchResult, error)
}

type QueueOutboundInput struct {
	TenantID         string
	CampaignID       string
	ContactID        string
	Channel          Channel
	RecipientAddress string
	Subject          string
	DedupeKey        string
	State            OutboundState
}

type MarkSentInput struct {
	OutboundMessageID string
	ProviderMessageID string
	MessageID         string
	SentAt            time.Time
}

type OutboundMessageStore interface {
	// Enqueue returns the existing message and created=false for a repeated
	// (tenant_id, dedupe_key).
	Enqueue(ctx context.Context, in QueueOutboundInput) (msg OutboundMessage, created bool, err error)
	Get(ctx context.Context, id string) (OutboundMessage, error)
	MarkSent(ctx context.Context, in MarkSentInput) (OutboundMessage, error)
	UpdateState(ctx context.Context, id string, state OutboundState) error
	// ListRecentByRecipient returns sent messages newest first.
	ListRecentByRecipient(ctx context.Context, tenantID string, channel Channel, recipient string, limit int) ([]OutboundMessage, error)
}

type CreateActionInput struct {
	TenantID          string
	CampaignID        string
	OutboundMessageID string
	ActionType        ActionType
	Payload           map[string]any
	ScheduledAt       time.Time
}

type ScheduledActionStore interface {
	Create(ctx context.Context, in CreateActionInput) (ScheduledAction, error)
	Get(ctx context.Context, id string) (ScheduledAction, error)
	// ClaimDue moves up to limit due pending actions to processing atomically.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]ScheduledAction, error)
	// Complete, Retry, Fail and Defer only apply while claim is still the
	// current claim; otherwise they return ErrClaimLost.
	Complete(ctx context.Context, claim ActionClaim, completedAt time.Time) error
	// Retry counts an attempt and returns the action to pending at nextAt.
	Retry(ctx context.Context, claim ActionClaim, cause error, nextAt time.Time) error
	// Fail counts the final attempt and marks the action failed.
	Fail(ctx context.Context, claim ActionClaim, cause error) error
	// Defer returns the action to pending without counting an attempt.
	Defer(ctx context.Context, claim ActionClaim, nextAt time.Time, reason string) error
	// Cancel only affects pending actions.
	Cancel(ctx context.Context, id string) (bool, error)
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int, error)
}

type ReplyEventFilter struct {
	TenantID          string
	OutboundMessageID string
	Limit             int
	Offset            int
}

type ReplyEventLog interface {
	List(ctx context.Context, filter ReplyEventFilter) ([]ReplyEvent, int, error)
}

type UpsertMailboxSubscriptionInput struct {
	TenantID             string
	Provider             string
	MailboxAddress       string
	RemoteSubscriptionID string
	CallbackURL          string
	Status               SubscriptionStatus
	ExpiresAt            time.Time
	LastRenewedAt        *time.Time
	Metadata             map[string]any
}

type MailboxSubscriptionStore interface {
	Upsert(ctx context.Context, in UpsertMailboxSubscriptionInput) (MailboxSubscription, error)
	Get(ctx context.Context, id string) (MailboxSubscription, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]MailboxSubscription, error)
	// ListErrored returns errored subscriptions last touched before updatedBefore.
	ListErrored(ctx context.Context, updatedBefore time.Time, limit int) ([]MailboxSubscription, error)
	UpdateState(ctx context.Context, id string, status SubscriptionStatus, reason string) error
}

type MailboxSubscribeRequest struct {
	TenantID       string
	MailboxAddress string
	CallbackURL    string
	Metadata       map[string]any
}

type MailboxSubscriptionResult struct {
	RemoteSubscriptionID string
	ExpiresAt            time.Time
	Metadata             map[string]any
}

// MailboxProvider manages push notification subscriptions for a mail provider.
type MailboxProvider interface {
	ID() string
	Subscribe(ctx context.Context, req MailboxSubscribeRequest) (MailboxSubscriptionResult, error)
	Renew(ctx context.Context, subscription MailboxSubscription) (MailboxSubscriptionResult, error)
	Cancel(ctx context.Context, subscription MailboxSubscription) error
}

type Registry interface {
	Register(provider MailboxProvider) error
	Get(providerID string) (MailboxProvider, bool)
	List() []MailboxProvider
}

type ActionExecutor interface {
	Execute(ctx context.Context, action ScheduledAction) error
}

type ActionExecutorFunc func(ctx context.Context, action ScheduledAction) error

func (f ActionExecutorFunc) Execute(ctx context.Context, action ScheduledAction) error {
	return f(ctx, action)
}

// ReplyEventSink is notified after a reply has been committed.
type ReplyEventSink interface {
	OnReply(ctx context.Context, event ReplyEvent, match MatchResult) error
}

type StoreProvider interface {
	ThreadStore() ThreadStore
	InboundMessageStore() InboundMessageStore
	OutboundMessageStore() OutboundMessageStore
	ScheduledActionStore() ScheduledActionStore
	ReplyEventLog() ReplyEventLog
	MailboxSubscriptionStore() MailboxSubscriptionStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// OutreachService is the operation surface consumed by command handlers and
// transports.
type OutreachService interface {
	CreateEmailThread(ctx context.Context, req CreateEmailThreadRequest) (string, error)
	GetThread(ctx context.Context, threadID string) (EmailThread, error)
	DeactivateThread(ctx context.Context, threadID string) error
	QueueOutbound(ctx context.Context, req QueueOutboundRequest) (OutboundMessage, bool, error)
	MarkOutboundSent(ctx context.Context, req MarkOutboundSentRequest) (OutboundMessage, string, error)
	MarkOutboundFailed(ctx context.Context, outboundMessageID string) error
	CancelOutbound(ctx context.Context, outboundMessageID string) error
	ProcessInbound(ctx context.Context, email InboundEmail) (InboundOutcome, error)
	ScheduleAction(ctx context.Context, req ScheduleActionRequest) (ScheduledAction, error)
	GetAction(ctx context.Context, actionID string) (ScheduledAction, error)
	CancelAction(ctx context.Context, actionID string) error
	ListReplyEvents(ctx context.Context, filter ReplyEventFilter) ([]ReplyEvent, int, error)
	SubscribeMailbox(ctx context.Context, req SubscribeMailboxRequest) (MailboxSubscription, error)
	RenewMailboxSubscription(ctx context.Context, subscriptionID string) (MailboxSubscription, error)
	CancelMailboxSubscription(ctx context.Context, subscriptionID string, reason string) error
	GetMailboxSubscription(ctx context.Context, subscriptionID string) (MailboxSubscription, error)
}
