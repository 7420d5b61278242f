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

const defaultReplyEventPageSize = 50

// ReplyEventStore is the append-only campaign event log. Rows are written
// inside the inbound commit transaction; this type only reads them.
type ReplyEventStore struct {
	db   *bun.DB
	repo repository.Repository[*replyEventRecord]
}

func NewReplyEventStore(db *bun.DB) (*ReplyEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*replyEventRecord](db, replyEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid reply event repository wiring: %w", err)
		}
	}
	return &ReplyEventStore{db: db, repo: repo}, nil
}

func (s *ReplyEventStore) List(ctx context.Context, filter core.ReplyEventFilter) ([]core.ReplyEvent, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: reply event store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReplyEventPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("event_at ASC"),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(limit, offset),
	}
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		selectors = append(selectors, repository.SelectBy("tenant_id", "=", tenantID))
	}
	if outboundID := strings.TrimSpace(filter.OutboundMessageID); outboundID != "" {
		selectors = append(selectors, repository.SelectBy("outbound_message_id", "=", outboundID))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	events := make([]core.ReplyEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	return events, total, nil
}

// appendReplyEvent inserts with conflict-ignore on (event_type,
// inbound_message_id) and returns nil when the event already exists.
func appendReplyEvent(ctx context.Context, db bun.IDB, event core.ReplyEvent) (*core.ReplyEvent, error) {
	if strings.TrimSpace(event.InboundMessageID) == "" {
		return nil, fmt.Errorf("sqlstore: reply event inbound message id is required")
	}
	record := newReplyEventRecord(event, time.Now().UTC())
	record.ID = uuid.NewString()
	result, err := db.NewInsert().
		Model(record).
		On("CONFLICT (event_type, inbound_message_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if rowsAffected(result) == 0 {
		return nil, nil
	}
	stored := record.toDomain()
	return &stored, nil
}
