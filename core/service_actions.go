package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ScheduleActionRequest struct {
	TenantID          string
	CampaignID        string
	OutboundMessageID string
	ActionType        ActionType
	Payload           map[string]any
	Spec              ScheduleSpec
	// BaseTime defaults to the service clock.
	BaseTime time.Time
}

func (r ScheduleActionRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.TenantID) == "":
		return badInput("core: tenant id is required")
	case !r.ActionType.Valid():
		return badInput("core: action type %q is unsupported", r.ActionType)
	}
	return nil
}

// ScheduleAction resolves the send time for a follow-up step and stores it as
// a pending action. With strict validation disabled an invalid delay or zone
// degrades to the base time instead of being rejected.
func (s *Service) ScheduleAction(ctx context.Context, req ScheduleActionRequest) (action ScheduledAction, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id":   req.TenantID,
		"action_type": string(req.ActionType),
	}
	defer func() {
		if action.ID != "" {
			fields["action_id"] = action.ID
		}
		s.observeOperation(ctx, startedAt, "schedule_action", err, fields)
	}()

	if s == nil || s.actionStore == nil {
		return ScheduledAction{}, s.mapError(fmt.Errorf("core: scheduled action store is required"))
	}
	if err = req.Validate(); err != nil {
		return ScheduledAction{}, s.mapError(err)
	}
	if s.config.Schedule.StrictValidation {
		if err = s.resolver.ValidateSpec(req.Spec); err != nil {
			return ScheduledAction{}, s.mapError(err)
		}
	}

	base := req.BaseTime
	if base.IsZero() {
		base = s.clock()
	}
	resolution := s.resolver.Explain(ctx, req.Spec, base)
	fields["quiet_adjusted"] = resolution.QuietAdjusted
	if resolution.Err != nil {
		fields["resolve_error"] = resolution.Err.Error()
	}

	action, err = s.actionStore.Create(ctx, CreateActionInput{
		TenantID:          strings.TrimSpace(req.TenantID),
		CampaignID:        strings.TrimSpace(req.CampaignID),
		OutboundMessageID: strings.TrimSpace(req.OutboundMessageID),
		ActionType:        req.ActionType,
		Payload:           copyAnyMap(req.Payload),
		ScheduledAt:       resolution.At.UTC(),
	})
	if err != nil {
		return ScheduledAction{}, s.mapError(err)
	}
	if err = s.markOutboundScheduled(ctx, action.OutboundMessageID); err != nil {
		return action, s.mapError(err)
	}
	return action, nil
}

// markOutboundScheduled moves a queued message to scheduled once an action
// owns its send. Messages already past queued keep their state, so follow-ups
// that reference a sent message leave it alone.
func (s *Service) markOutboundScheduled(ctx context.Context, outboundMessageID string) error {
	if outboundMessageID == "" || s.outboundStore == nil {
		return nil
	}
	err := s.outboundStore.UpdateState(ctx, outboundMessageID, OutboundStateScheduled)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

func (s *Service) GetAction(ctx context.Context, actionID string) (ScheduledAction, error) {
	if s == nil || s.actionStore == nil {
		return ScheduledAction{}, s.mapError(fmt.Errorf("core: scheduled action store is required"))
	}
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return ScheduledAction{}, s.mapError(badInput("core: action id is required"))
	}
	action, err := s.actionStore.Get(ctx, actionID)
	if err != nil {
		return ScheduledAction{}, s.mapError(err)
	}
	return action, nil
}

// CancelAction cancels a pending action. Claimed or finished actions are left
// untouched and reported as a conflict.
func (s *Service) CancelAction(ctx context.Context, actionID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"action_id": actionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "cancel_action", err, fields)
	}()

	if s == nil || s.actionStore == nil {
		return s.mapError(fmt.Errorf("core: scheduled action store is required"))
	}
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return s.mapError(badInput("core: action id is required"))
	}
	canceled, err := s.actionStore.Cancel(ctx, actionID)
	if err != nil {
		return s.mapError(err)
	}
	if !canceled {
		return s.mapError(fmt.Errorf("%w: %s", ErrActionNotPending, actionID))
	}
	return nil
}

// ListReplyEvents pages through the reply event log.
func (s *Service) ListReplyEvents(ctx context.Context, filter ReplyEventFilter) ([]ReplyEvent, int, error) {
	if s == nil || s.replyEventLog == nil {
		return nil, 0, s.mapError(fmt.Errorf("core: reply event log is required"))
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.TenantID = strings.TrimSpace(filter.TenantID)
	filter.OutboundMessageID = strings.TrimSpace(filter.OutboundMessageID)
	events, total, err := s.replyEventLog.List(ctx, filter)
	if err != nil {
		return nil, 0, s.mapError(err)
	}
	return events, total, nil
}
