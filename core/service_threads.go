package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type CreateEmailThreadRequest struct {
	TenantID          string
	CampaignID        string
	ContactID         string
	OutboundMessageID string
	MessageID         string
	ProviderThreadID  string
}

func (r CreateEmailThreadRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.TenantID) == "":
		return badInput("core: tenant id is required")
	case strings.TrimSpace(r.OutboundMessageID) == "":
		return badInput("core: outbound message id is required")
	case NormalizeMessageID(r.MessageID) == "":
		return badInput("core: message id is required")
	}
	return nil
}

// CreateEmailThread registers the thread for a sent message. Replays of the
// same (tenant, outbound message) return the original thread id.
func (s *Service) CreateEmailThread(ctx context.Context, req CreateEmailThreadRequest) (threadID string, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id":           req.TenantID,
		"outbound_message_id": req.OutboundMessageID,
	}
	defer func() {
		if threadID != "" {
			fields["thread_id"] = threadID
		}
		s.observeOperation(ctx, startedAt, "create_email_thread", err, fields)
	}()

	if s == nil || s.threadStore == nil {
		return "", s.mapError(fmt.Errorf("core: thread store is required"))
	}
	if err = req.Validate(); err != nil {
		return "", s.mapError(err)
	}
	thread, created, err := s.threadStore.Create(ctx, CreateThreadInput{
		TenantID:          strings.TrimSpace(req.TenantID),
		CampaignID:        strings.TrimSpace(req.CampaignID),
		ContactID:         strings.TrimSpace(req.ContactID),
		OutboundMessageID: strings.TrimSpace(req.OutboundMessageID),
		MessageID:         NormalizeMessageID(req.MessageID),
		ProviderThreadID:  strings.TrimSpace(req.ProviderThreadID),
	})
	if err != nil {
		return "", s.mapError(err)
	}
	fields["created"] = created
	return thread.ID, nil
}

func (s *Service) GetThread(ctx context.Context, threadID string) (EmailThread, error) {
	if s == nil || s.threadStore == nil {
		return EmailThread{}, s.mapError(fmt.Errorf("core: thread store is required"))
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return EmailThread{}, s.mapError(badInput("core: thread id is required"))
	}
	thread, err := s.threadStore.Get(ctx, threadID)
	if err != nil {
		return EmailThread{}, s.mapError(err)
	}
	return thread, nil
}

// DeactivateThread stops a thread from attracting further replies. Rows are
// kept for attribution history.
func (s *Service) DeactivateThread(ctx context.Context, threadID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"thread_id": threadID}
	defer func() {
		s.observeOperation(ctx, startedAt, "deactivate_thread", err, fields)
	}()

	if s == nil || s.threadStore == nil {
		return s.mapError(fmt.Errorf("core: thread store is required"))
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return s.mapError(badInput("core: thread id is required"))
	}
	if err = s.threadStore.Deactivate(ctx, threadID); err != nil {
		return s.mapError(err)
	}
	return nil
}
