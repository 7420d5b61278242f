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

type OutboundMessageStore struct {
	db   *bun.DB
	repo repository.Repository[*outboundMessageRecord]
}

func NewOutboundMessageStore(db *bun.DB) (*OutboundMessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outboundMessageRecord](db, outboundMessageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbound message repository wiring: %w", err)
		}
	}
	return &OutboundMessageStore{db: db, repo: repo}, nil
}

// Enqueue inserts with conflict-ignore on (tenant_id, dedupe_key).
func (s *OutboundMessageStore) Enqueue(ctx context.Context, in core.QueueOutboundInput) (core.OutboundMessage, bool, error) {
	if s == nil || s.db == nil {
		return core.OutboundMessage{}, false, fmt.Errorf("sqlstore: outbound message store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.DedupeKey = strings.TrimSpace(in.DedupeKey)
	if in.TenantID == "" || in.DedupeKey == "" {
		return core.OutboundMessage{}, false, fmt.Errorf("sqlstore: tenant id and dedupe key are required")
	}

	record := newOutboundMessageRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (tenant_id, dedupe_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.OutboundMessage{}, false, err
	}
	if rowsAffected(result) == 1 {
		return record.toDomain(), true, nil
	}

	existing := &outboundMessageRecord{}
	err = s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.tenant_id = ?", in.TenantID).
		Where("?TableAlias.dedupe_key = ?", in.DedupeKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.OutboundMessage{}, false, err
	}
	return existing.toDomain(), false, nil
}

func (s *OutboundMessageStore) Get(ctx context.Context, id string) (core.OutboundMessage, error) {
	if s == nil || s.repo == nil {
		return core.OutboundMessage{}, fmt.Errorf("sqlstore: outbound message store is not configured")
	}
	id = strings.TrimSpace(id)
	if parseUUID(id) == uuid.Nil {
		return core.OutboundMessage{}, notFoundError("outbound message", id)
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return core.OutboundMessage{}, notFoundError("outbound message", id)
		}
		return core.OutboundMessage{}, err
	}
	return record.toDomain(), nil
}

func (s *OutboundMessageStore) MarkSent(ctx context.Context, in core.MarkSentInput) (core.OutboundMessage, error) {
	if s == nil || s.db == nil {
		return core.OutboundMessage{}, fmt.Errorf("sqlstore: outbound message store is not configured")
	}
	id := strings.TrimSpace(in.OutboundMessageID)
	if id == "" {
		return core.OutboundMessage{}, fmt.Errorf("sqlstore: outbound message id is required")
	}
	sentAt := in.SentAt.UTC()
	if in.SentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	result, err := s.db.NewUpdate().
		Model((*outboundMessageRecord)(nil)).
		Set("state = ?", string(core.OutboundStateSent)).
		Set("provider_message_id = ?", strings.TrimSpace(in.ProviderMessageID)).
		Set("message_id = ?", strings.TrimSpace(in.MessageID)).
		Set("sent_at = ?", sentAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("state IN (?)", bun.In(outboundStateStrings(core.OutboundTransitionSources(core.OutboundStateSent)))).
		Exec(ctx)
	if err != nil {
		return core.OutboundMessage{}, err
	}
	if rowsAffected(result) == 0 {
		return core.OutboundMessage{}, s.transitionError(ctx, id, core.OutboundStateSent)
	}
	return s.Get(ctx, id)
}

func (s *OutboundMessageStore) UpdateState(ctx context.Context, id string, state core.OutboundState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbound message store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: outbound message id is required")
	}
	sources := core.OutboundTransitionSources(state)
	if len(sources) == 0 {
		return fmt.Errorf("sqlstore: outbound state %q is not a valid target", state)
	}
	result, err := s.db.NewUpdate().
		Model((*outboundMessageRecord)(nil)).
		Set("state = ?", string(state)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("state IN (?)", bun.In(outboundStateStrings(sources))).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rowsAffected(result) == 0 {
		return s.transitionError(ctx, id, state)
	}
	return nil
}

// transitionError explains a conditional update that touched no rows: either
// the message is missing or its current state does not allow the move.
func (s *OutboundMessageStore) transitionError(ctx context.Context, id string, next core.OutboundState) error {
	record := &outboundMessageRecord{}
	err := s.db.NewSelect().
		Model(record).
		Column("state").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return notFoundError("outbound message", id)
		}
		return err
	}
	return fmt.Errorf("%w: outbound message %q is %s, cannot become %s", core.ErrInvalidTransition, id, record.State, next)
}

func outboundStateStrings(states []core.OutboundState) []string {
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}

func (s *OutboundMessageStore) ListRecentByRecipient(
	ctx context.Context,
	tenantID string,
	channel core.Channel,
	recipient string,
	limit int,
) ([]core.OutboundMessage, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: outbound message store is not configured")
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return []core.OutboundMessage{}, nil
	}
	if limit <= 0 {
		limit = 1
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("state", "=", string(core.OutboundStateSent)),
		repository.SelectBy("channel", "=", string(channel)),
		repository.SelectBy("recipient_address", "=", recipient),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.sent_at IS NOT NULL")
		}),
		repository.OrderBy("sent_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		selectors = append(selectors, repository.SelectBy("tenant_id", "=", tenantID))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.OutboundMessage, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
