package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-outreach/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type MailboxSubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*mailboxSubscriptionRecord]
}

func NewMailboxSubscriptionStore(db *bun.DB) (*MailboxSubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*mailboxSubscriptionRecord](db, mailboxSubscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid mailbox subscription repository wiring: %w", err)
		}
	}
	return &MailboxSubscriptionStore{
		db:   db,
		repo: repo,
	}, nil
}

// Upsert is keyed by (tenant_id, provider, mailbox_address); an update clears
// last_error.
func (s *MailboxSubscriptionStore) Upsert(ctx context.Context, in core.UpsertMailboxSubscriptionInput) (core.MailboxSubscription, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.MailboxSubscription{}, fmt.Errorf("sqlstore: mailbox subscription store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.MailboxAddress = strings.TrimSpace(in.MailboxAddress)
	in.RemoteSubscriptionID = strings.TrimSpace(in.RemoteSubscriptionID)
	in.CallbackURL = strings.TrimSpace(in.CallbackURL)
	if in.TenantID == "" || in.Provider == "" {
		return core.MailboxSubscription{}, fmt.Errorf("sqlstore: tenant id and provider are required")
	}
	if in.MailboxAddress == "" {
		return core.MailboxSubscription{}, fmt.Errorf("sqlstore: mailbox address is required")
	}
	if strings.TrimSpace(string(in.Status)) == "" {
		in.Status = core.SubscriptionStatusActive
	}
	now := time.Now().UTC()

	var out core.MailboxSubscription
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.findByMailboxTx(ctx, tx, in.TenantID, in.Provider, in.MailboxAddress)
		if err != nil {
			return err
		}
		if existing == nil {
			record := newMailboxSubscriptionRecord(in, now)
			record.ID = uuid.NewString()
			if _, createErr := tx.NewInsert().Model(record).Exec(ctx); createErr != nil {
				return createErr
			}
			out = record.toDomain()
			return nil
		}

		existing.RemoteSubscriptionID = in.RemoteSubscriptionID
		existing.CallbackURL = in.CallbackURL
		existing.Status = string(in.Status)
		existing.ExpiresAt = in.ExpiresAt.UTC()
		existing.LastRenewedAt = cloneTimePointer(in.LastRenewedAt)
		existing.LastError = ""
		existing.Metadata = copyAnyMap(in.Metadata)
		existing.UpdatedAt = now

		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.MailboxSubscription{}, err
	}
	return out, nil
}

func (s *MailboxSubscriptionStore) Get(ctx context.Context, id string) (core.MailboxSubscription, error) {
	if s == nil || s.repo == nil {
		return core.MailboxSubscription{}, fmt.Errorf("sqlstore: mailbox subscription store is not configured")
	}
	id = strings.TrimSpace(id)
	if parseUUID(id) == uuid.Nil {
		return core.MailboxSubscription{}, notFoundError("subscription", id)
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return core.MailboxSubscription{}, notFoundError("subscription", id)
		}
		return core.MailboxSubscription{}, err
	}
	return record.toDomain(), nil
}

func (s *MailboxSubscriptionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.MailboxSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: mailbox subscription store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("status", "=", string(core.SubscriptionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.expires_at < ?", before.UTC())
		}),
		repository.OrderBy("expires_at ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.MailboxSubscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *MailboxSubscriptionStore) ListErrored(ctx context.Context, updatedBefore time.Time, limit int) ([]core.MailboxSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: mailbox subscription store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("status", "=", string(core.SubscriptionStatusErrored)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.updated_at < ?", updatedBefore.UTC())
		}),
		repository.OrderBy("updated_at ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.MailboxSubscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *MailboxSubscriptionStore) UpdateState(ctx context.Context, id string, status core.SubscriptionStatus, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: mailbox subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNotFound(err) {
			return notFoundError("subscription", trimmedID)
		}
		return err
	}
	record.Status = strings.TrimSpace(string(status))
	record.LastError = strings.TrimSpace(reason)
	record.UpdatedAt = time.Now().UTC()
	record.Metadata = copyAnyMap(record.Metadata)
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *MailboxSubscriptionStore) findByMailboxTx(
	ctx context.Context,
	tx bun.Tx,
	tenantID string,
	provider string,
	mailbox string,
) (*mailboxSubscriptionRecord, error) {
	record := &mailboxSubscriptionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.mailbox_address = ?", mailbox).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, nil
	}
	return record, nil
}
