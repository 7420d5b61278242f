package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-outreach/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type InboundMessageStore struct {
	db   *bun.DB
	repo repository.Repository[*inboundMessageRecord]

	// afterReply runs once a reply has been committed against a thread.
	afterReply func(ctx context.Context, threadID string) error
}

// OnReplyCommitted registers fn to run after CommitMatch records a reply.
// The thread cache uses it to drop entries the transaction made stale.
func (s *InboundMessageStore) OnReplyCommitted(fn func(ctx context.Context, threadID string) error) {
	if s == nil {
		return
	}
	s.afterReply = fn
}

func NewInboundMessageStore(db *bun.DB) (*InboundMessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundMessageRecord](db, inboundMessageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound message repository wiring: %w", err)
		}
	}
	return &InboundMessageStore{db: db, repo: repo}, nil
}

func (s *InboundMessageStore) Reserve(ctx context.Context, msg core.InboundMessage) (core.InboundMessage, bool, error) {
	if s == nil || s.db == nil {
		return core.InboundMessage{}, false, fmt.Errorf("sqlstore: inbound message store is not configured")
	}
	msg.Provider = strings.TrimSpace(msg.Provider)
	msg.ProviderMessageID = strings.TrimSpace(msg.ProviderMessageID)
	if msg.Provider == "" || msg.ProviderMessageID == "" {
		return core.InboundMessage{}, false, fmt.Errorf("sqlstore: provider and provider message id are required")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	record := newInboundMessageRecord(msg, time.Now().UTC())
	record.ID = uuid.NewString()
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider, provider_message_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.InboundMessage{}, false, err
	}
	if rowsAffected(result) == 1 {
		return record.toDomain(), true, nil
	}

	existing := &inboundMessageRecord{}
	err = s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.provider = ?", msg.Provider).
		Where("?TableAlias.provider_message_id = ?", msg.ProviderMessageID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.InboundMessage{}, false, err
	}
	return existing.toDomain(), false, nil
}

func (s *InboundMessageStore) Get(ctx context.Context, id string) (core.InboundMessage, error) {
	if s == nil || s.repo == nil {
		return core.InboundMessage{}, fmt.Errorf("sqlstore: inbound message store is not configured")
	}
	id = strings.TrimSpace(id)
	if parseUUID(id) == uuid.Nil {
		return core.InboundMessage{}, notFoundError("inbound message", id)
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return core.InboundMessage{}, notFoundError("inbound message", id)
		}
		return core.InboundMessage{}, err
	}
	return record.toDomain(), nil
}

func (s *InboundMessageStore) FindMatchedByConversationID(ctx context.Context, tenantID string, conversationID string) (core.InboundMessage, bool, error) {
	if s == nil || s.repo == nil {
		return core.InboundMessage{}, false, fmt.Errorf("sqlstore: inbound message store is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return core.InboundMessage{}, false, nil
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("conversation_id", "=", conversationID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.processed = ?", true).
				Where("?TableAlias.matched_thread_id <> ''")
		}),
		repository.OrderBy("received_at DESC"),
		repository.SelectPaginate(1, 0),
	}
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		selectors = append(selectors, repository.SelectBy("tenant_id", "=", tenantID))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.InboundMessage{}, false, err
	}
	if len(records) == 0 {
		return core.InboundMessage{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

// CommitMatch runs the processed flag flip, the thread reply counter and the
// reply event insert in one transaction. The flip is conditioned on
// processed = false so concurrent deliveries of the same message commit once.
func (s *InboundMessageStore) CommitMatch(ctx context.Context, in core.CommitMatchInput) (core.CommitMatchResult, error) {
	if s == nil || s.db == nil {
		return core.CommitMatchResult{}, fmt.Errorf("sqlstore: inbound message store is not configured")
	}
	id := strings.TrimSpace(in.InboundMessageID)
	if id == "" {
		return core.CommitMatchResult{}, fmt.Errorf("sqlstore: inbound message id is required")
	}
	if in.Match.IsReply && strings.TrimSpace(in.Match.ThreadID) == "" {
		return core.CommitMatchResult{}, fmt.Errorf("sqlstore: matched thread id is required for replies")
	}
	processedAt := in.ProcessedAt.UTC()
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	var out core.CommitMatchResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		update := tx.NewUpdate().
			Model((*inboundMessageRecord)(nil)).
			Set("processed = ?", true).
			Set("processed_at = ?", processedAt).
			Set("match_method = ?", string(in.Match.Method)).
			Set("match_confidence = ?", string(in.Match.Confidence)).
			Where("id = ?", id).
			Where("processed = ?", false)
		if in.Match.IsReply {
			update = update.
				Set("matched_thread_id = ?", in.Match.ThreadID).
				Set("tenant_id = CASE WHEN tenant_id = '' THEN ? ELSE tenant_id END", in.Match.TenantID)
		}
		result, err := update.Exec(ctx)
		if err != nil {
			return err
		}
		if rowsAffected(result) == 0 {
			exists, err := tx.NewSelect().
				Model((*inboundMessageRecord)(nil)).
				Where("?TableAlias.id = ?", id).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return notFoundError("inbound message", id)
			}
			return nil
		}

		out.Committed = true
		if !in.Match.IsReply {
			return nil
		}
		if err := recordThreadReply(ctx, tx, in.Match.ThreadID, in.ReceivedAt); err != nil {
			return err
		}
		event, err := appendReplyEvent(ctx, tx, core.NewReplyEvent(id, in.Match, in.ReceivedAt, in.Source))
		if err != nil {
			return err
		}
		out.ReplyEvent = event
		return nil
	})
	if err != nil {
		return core.CommitMatchResult{}, err
	}
	if out.Committed && in.Match.IsReply && s.afterReply != nil {
		if err := s.afterReply(ctx, in.Match.ThreadID); err != nil {
			return out, fmt.Errorf("sqlstore: reply committed but thread cache eviction failed: %w", err)
		}
	}
	return out, nil
}
