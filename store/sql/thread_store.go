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

type ThreadStore struct {
	db   *bun.DB
	repo repository.Repository[*threadRecord]
}

func NewThreadStore(db *bun.DB) (*ThreadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*threadRecord](db, threadHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid thread repository wiring: %w", err)
		}
	}
	return &ThreadStore{db: db, repo: repo}, nil
}

// Create inserts with conflict-ignore on (tenant_id, original_outbound_message_id)
// and returns the existing row on replay.
func (s *ThreadStore) Create(ctx context.Context, in core.CreateThreadInput) (core.EmailThread, bool, error) {
	if s == nil || s.db == nil {
		return core.EmailThread{}, false, fmt.Errorf("sqlstore: thread store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.OutboundMessageID = strings.TrimSpace(in.OutboundMessageID)
	in.MessageID = strings.TrimSpace(in.MessageID)
	in.ProviderThreadID = strings.TrimSpace(in.ProviderThreadID)
	if in.TenantID == "" || in.OutboundMessageID == "" {
		return core.EmailThread{}, false, fmt.Errorf("sqlstore: tenant id and outbound message id are required")
	}
	if in.MessageID == "" {
		return core.EmailThread{}, false, fmt.Errorf("sqlstore: message id is required")
	}

	record := newThreadRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (tenant_id, original_outbound_message_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.EmailThread{}, false, err
	}
	if rowsAffected(result) == 1 {
		return record.toDomain(), true, nil
	}

	existing, found, err := s.findOne(ctx, in.TenantID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.original_outbound_message_id = ?", in.OutboundMessageID)
	}, false)
	if err != nil {
		return core.EmailThread{}, false, err
	}
	if !found {
		return core.EmailThread{}, false, fmt.Errorf(
			"sqlstore: thread for outbound message %q conflicted but was not found",
			in.OutboundMessageID,
		)
	}
	return existing, false, nil
}

func (s *ThreadStore) Get(ctx context.Context, id string) (core.EmailThread, error) {
	if s == nil || s.repo == nil {
		return core.EmailThread{}, fmt.Errorf("sqlstore: thread store is not configured")
	}
	id = strings.TrimSpace(id)
	if parseUUID(id) == uuid.Nil {
		return core.EmailThread{}, notFoundError("thread", id)
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return core.EmailThread{}, notFoundError("thread", id)
		}
		return core.EmailThread{}, err
	}
	return record.toDomain(), nil
}

func (s *ThreadStore) FindActiveByMessageID(ctx context.Context, tenantID string, messageID string) (core.EmailThread, bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return core.EmailThread{}, false, nil
	}
	return s.findOne(ctx, tenantID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.message_id = ?", messageID)
	}, true)
}

func (s *ThreadStore) FindActiveByProviderThreadID(ctx context.Context, tenantID string, providerThreadID string) (core.EmailThread, bool, error) {
	providerThreadID = strings.TrimSpace(providerThreadID)
	if providerThreadID == "" {
		return core.EmailThread{}, false, nil
	}
	return s.findOne(ctx, tenantID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.provider_thread_id = ?", providerThreadID)
	}, true)
}

func (s *ThreadStore) FindActiveByOutboundMessageID(ctx context.Context, tenantID string, outboundMessageID string) (core.EmailThread, bool, error) {
	outboundMessageID = strings.TrimSpace(outboundMessageID)
	if outboundMessageID == "" {
		return core.EmailThread{}, false, nil
	}
	return s.findOne(ctx, tenantID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.original_outbound_message_id = ?", outboundMessageID)
	}, true)
}

func (s *ThreadStore) GetActive(ctx context.Context, id string) (core.EmailThread, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.EmailThread{}, false, nil
	}
	return s.findOne(ctx, "", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	}, true)
}

func (s *ThreadStore) RecordReply(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: thread store is not configured")
	}
	return recordThreadReply(ctx, s.db, id, at)
}

func (s *ThreadStore) Deactivate(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: thread store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: thread id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*threadRecord)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rowsAffected(result) == 0 {
		return notFoundError("thread", id)
	}
	return nil
}

func (s *ThreadStore) findOne(
	ctx context.Context,
	tenantID string,
	filter func(*bun.SelectQuery) *bun.SelectQuery,
	activeOnly bool,
) (core.EmailThread, bool, error) {
	if s == nil || s.repo == nil {
		return core.EmailThread{}, false, fmt.Errorf("sqlstore: thread store is not configured")
	}
	criteria := []repository.SelectCriteria{
		repository.SelectRawProcessor(filter),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(1, 0),
	}
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		criteria = append(criteria, repository.SelectBy("tenant_id", "=", tenantID))
	}
	if activeOnly {
		// Bound as a bool so sqlite compares against 1 rather than 'true'.
		criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.is_active = ?", true)
		}))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.EmailThread{}, false, err
	}
	if len(records) == 0 {
		return core.EmailThread{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

// recordThreadReply increments reply_count and keeps last_reply_at monotonic
// in a single statement.
func recordThreadReply(ctx context.Context, db bun.IDB, id string, at time.Time) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: thread id is required")
	}
	at = at.UTC()
	result, err := db.NewUpdate().
		Model((*threadRecord)(nil)).
		Set("reply_count = reply_count + 1").
		Set("last_reply_at = CASE WHEN last_reply_at IS NULL OR last_reply_at < ? THEN ? ELSE last_reply_at END", at, at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rowsAffected(result) == 0 {
		return notFoundError("thread", id)
	}
	return nil
}
