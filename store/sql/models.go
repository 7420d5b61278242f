package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type threadRecord struct {
	bun.BaseModel `bun:"table:outreach_email_threads,alias:oet"`

	ID                        string     `bun:"id,pk"`
	TenantID                  string     `bun:"tenant_id,notnull"`
	CampaignID                string     `bun:"campaign_id,notnull"`
	ContactID                 string     `bun:"contact_id,notnull"`
	OriginalOutboundMessageID string     `bun:"original_outbound_message_id,notnull"`
	MessageID                 string     `bun:"message_id,notnull"`
	ProviderThreadID          string     `bun:"provider_thread_id,notnull"`
	IsActive                  bool       `bun:"is_active,notnull"`
	ReplyCount                int        `bun:"reply_count,notnull"`
	LastReplyAt               *time.Time `bun:"last_reply_at,nullzero"`
	CreatedAt                 time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt                 time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type inboundMessageRecord struct {
	bun.BaseModel `bun:"table:outreach_inbound_messages,alias:oim"`

	ID                string     `bun:"id,pk"`
	Provider          string     `bun:"provider,notnull"`
	ProviderMessageID string     `bun:"provider_message_id,notnull"`
	TenantID          string     `bun:"tenant_id,notnull"`
	Channel           string     `bun:"channel,notnull"`
	FromEmail         string     `bun:"from_email,notnull"`
	ToEmail           string     `bun:"to_email,notnull"`
	Subject           string     `bun:"subject,notnull"`
	MessageID         string     `bun:"message_id,notnull"`
	InReplyTo         string     `bun:"in_reply_to,notnull"`
	References        string     `bun:"references_header,notnull"`
	ProviderThreadID  string     `bun:"provider_thread_id,notnull"`
	ConversationID    string     `bun:"conversation_id,notnull"`
	ReceivedAt        time.Time  `bun:"received_at,notnull"`
	MatchedThreadID   string     `bun:"matched_thread_id,notnull"`
	MatchMethod       string     `bun:"match_method,notnull"`
	MatchConfidence   string     `bun:"match_confidence,notnull"`
	Processed         bool       `bun:"processed,notnull"`
	ProcessedAt       *time.Time `bun:"processed_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type outboundMessageRecord struct {
	bun.BaseModel `bun:"table:outreach_outbound_messages,alias:oom"`

	ID                string     `bun:"id,pk"`
	TenantID          string     `bun:"tenant_id,notnull"`
	CampaignID        string     `bun:"campaign_id,notnull"`
	ContactID         string     `bun:"contact_id,notnull"`
	Channel           string     `bun:"channel,notnull"`
	RecipientAddress  string     `bun:"recipient_address,notnull"`
	Subject           string     `bun:"subject,notnull"`
	DedupeKey         string     `bun:"dedupe_key,notnull"`
	State             string     `bun:"state,notnull"`
	ProviderMessageID string     `bun:"provider_message_id,notnull"`
	MessageID         string     `bun:"message_id,notnull"`
	SentAt            *time.Time `bun:"sent_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type scheduledActionRecord struct {
	bun.BaseModel `bun:"table:outreach_scheduled_actions,alias:osa"`

	ID                string         `bun:"id,pk"`
	TenantID          string         `bun:"tenant_id,notnull"`
	CampaignID        string         `bun:"campaign_id,notnull"`
	OutboundMessageID string         `bun:"outbound_message_id,notnull"`
	ActionType        string         `bun:"action_type,notnull"`
	Payload           map[string]any `bun:"payload,type:jsonb,notnull"`
	ScheduledAt       time.Time      `bun:"scheduled_at,notnull"`
	Status            string         `bun:"status,notnull"`
	AttemptCount      int            `bun:"attempt_count,notnull"`
	LastError         string         `bun:"last_error,notnull"`
	ClaimedAt         *time.Time     `bun:"claimed_at,nullzero"`
	CompletedAt       *time.Time     `bun:"completed_at,nullzero"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type replyEventRecord struct {
	bun.BaseModel `bun:"table:outreach_reply_events,alias:ore"`

	ID                string         `bun:"id,pk"`
	OutboundMessageID string         `bun:"outbound_message_id,notnull"`
	TenantID          string         `bun:"tenant_id,notnull"`
	EventType         string         `bun:"event_type,notnull"`
	EventAt           time.Time      `bun:"event_at,notnull"`
	InboundMessageID  string         `bun:"inbound_message_id,notnull"`
	Source            string         `bun:"source,notnull"`
	Data              map[string]any `bun:"data,type:jsonb,notnull"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type mailboxSubscriptionRecord struct {
	bun.BaseModel `bun:"table:outreach_mailbox_subscriptions,alias:oms"`

	ID                   string         `bun:"id,pk"`
	TenantID             string         `bun:"tenant_id,notnull"`
	Provider             string         `bun:"provider,notnull"`
	MailboxAddress       string         `bun:"mailbox_address,notnull"`
	RemoteSubscriptionID string         `bun:"remote_subscription_id,notnull"`
	CallbackURL          string         `bun:"callback_url,notnull"`
	Status               string         `bun:"status,notnull"`
	ExpiresAt            time.Time      `bun:"expires_at,notnull"`
	LastRenewedAt        *time.Time     `bun:"last_renewed_at,nullzero"`
	LastError            string         `bun:"last_error,notnull"`
	Metadata             map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt            time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
