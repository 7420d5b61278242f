package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-outreach/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ScheduledActionStore struct {
	db   *bun.DB
	repo repository.Repository[*scheduledActionRecord]
}

func NewScheduledActionStore(db *bun.DB) (*ScheduledActionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*scheduledActionRecord](db, scheduledActionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid scheduled action repository wiring: %w", err)
		}
	}
	return &ScheduledActionStore{db: db, repo: repo}, nil
}

func (s *ScheduledActionStore) Create(ctx context.Context, in core.CreateActionInput) (core.ScheduledAction, error) {
	if s == nil || s.repo == nil {
		return core.ScheduledAction{}, fmt.Errorf("sqlstore: scheduled action store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.TenantID == "" {
		return core.ScheduledAction{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	if strings.TrimSpace(string(in.ActionType)) == "" {
		return core.ScheduledAction{}, fmt.Errorf("sqlstore: action type is required")
	}
	if in.ScheduledAt.IsZero() {
		return core.ScheduledAction{}, fmt.Errorf("sqlstore: scheduled at is required")
	}
	record := newScheduledActionRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.ScheduledAction{}, err
	}
	return created.toDomain(), nil
}

func (s *ScheduledActionStore) Get(ctx context.Context, id string) (core.ScheduledAction, error) {
	if s == nil || s.repo == nil {
		return core.ScheduledAction{}, fmt.Errorf("sqlstore: scheduled action store is not configured")
	}
	id = strings.TrimSpace(id)
	if parseUUID(id) == uuid.Nil {
		return core.ScheduledAction{}, notFoundError("action", id)
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return core.ScheduledAction{}, notFoundError("action", id)
		}
		return core.ScheduledAction{}, err
	}
	return record.toDomain(), nil
}

// ClaimDue flips up to limit due pending rows to processing in one
// conditional UPDATE, so two dispatchers never claim the same action.
func (s *ScheduledActionStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.ScheduledAction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: scheduled action store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	var records []scheduledActionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM outreach_scheduled_actions
	WHERE status = ?
	  AND scheduled_at <= ?
	ORDER BY scheduled_at ASC, id ASC
	LIMIT ?
)
UPDATE outreach_scheduled_actions
SET status = ?, claimed_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	tenant_id,
	campaign_id,
	outbound_message_id,
	action_type,
	payload,
	scheduled_at,
	status,
	attempt_count,
	last_error,
	claimed_at,
	completed_at,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			string(core.ActionStatusPending),
			now,
			limit,
			string(core.ActionStatusProcessing),
			now,
			now,
			string(core.ActionStatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	actions := make([]core.ScheduledAction, 0, len(records))
	for i := range records {
		actions = append(actions, records[i].toDomain())
	}
	sortActionsByDue(actions)
	return actions, nil
}

func (s *ScheduledActionStore) Complete(ctx context.Context, claim core.ActionClaim, completedAt time.Time) error {
	return s.finish(ctx, claim, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.ActionStatusCompleted)).
			Set("completed_at = ?", completedAt.UTC()).
			Set("claimed_at = NULL").
			Set("last_error = ?", "")
	})
}

func (s *ScheduledActionStore) Retry(ctx context.Context, claim core.ActionClaim, cause error, nextAt time.Time) error {
	return s.finish(ctx, claim, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.ActionStatusPending)).
			Set("attempt_count = attempt_count + 1").
			Set("last_error = ?", errorText(cause)).
			Set("scheduled_at = ?", nextAt.UTC()).
			Set("claimed_at = NULL")
	})
}

func (s *ScheduledActionStore) Fail(ctx context.Context, claim core.ActionClaim, cause error) error {
	return s.finish(ctx, claim, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.ActionStatusFailed)).
			Set("attempt_count = attempt_count + 1").
			Set("last_error = ?", errorText(cause)).
			Set("claimed_at = NULL")
	})
}

func (s *ScheduledActionStore) Defer(ctx context.Context, claim core.ActionClaim, nextAt time.Time, reason string) error {
	return s.finish(ctx, claim, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.ActionStatusPending)).
			Set("last_error = ?", strings.TrimSpace(reason)).
			Set("scheduled_at = ?", nextAt.UTC()).
			Set("claimed_at = NULL")
	})
}

func (s *ScheduledActionStore) Cancel(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: scheduled action store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("sqlstore: action id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*scheduledActionRecord)(nil)).
		Set("status = ?", string(core.ActionStatusCanceled)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", string(core.ActionStatusPending)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if rowsAffected(result) == 1 {
		return true, nil
	}
	exists, err := s.db.NewSelect().
		Model((*scheduledActionRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, notFoundError("action", id)
	}
	return false, nil
}

func (s *ScheduledActionStore) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: scheduled action store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*scheduledActionRecord)(nil)).
		Set("status = ?", string(core.ActionStatusPending)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("status = ?", string(core.ActionStatusProcessing)).
		Where("claimed_at IS NOT NULL").
		Where("claimed_at < ?", claimedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return int(rowsAffected(result)), nil
}

// finish applies a terminal or requeue update only while the row is still
// processing under the given claim. A zero ClaimedAt matches any claim.
func (s *ScheduledActionStore) finish(ctx context.Context, claim core.ActionClaim, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: scheduled action store is not configured")
	}
	id := strings.TrimSpace(claim.ID)
	if id == "" {
		return fmt.Errorf("sqlstore: action id is required")
	}
	query := s.db.NewUpdate().
		Model((*scheduledActionRecord)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", string(core.ActionStatusProcessing))
	if !claim.ClaimedAt.IsZero() {
		query = query.Where("claimed_at = ?", claim.ClaimedAt.UTC())
	}
	result, err := apply(query).Exec(ctx)
	if err != nil {
		return err
	}
	if rowsAffected(result) == 1 {
		return nil
	}
	exists, err := s.db.NewSelect().
		Model((*scheduledActionRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return notFoundError("action", id)
	}
	return fmt.Errorf("%w: action %q", core.ErrClaimLost, id)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

// RETURNING order is not guaranteed to follow the CTE ORDER BY.
func sortActionsByDue(actions []core.ScheduledAction) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].ScheduledAt.Equal(actions[j].ScheduledAt) {
			return actions[i].ID < actions[j].ID
		}
		return actions[i].ScheduledAt.Before(actions[j].ScheduledAt)
	})
}
