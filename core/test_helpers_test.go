package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type memoryThreadStore struct {
	mu      sync.Mutex
	next    int
	byID    map[string]EmailThread
	findErr error
}

func newMemoryThreadStore() *memoryThreadStore {
	return &memoryThreadStore{byID: map[string]EmailThread{}}
}

func (s *memoryThreadStore) Create(_ context.Context, in CreateThreadInput) (EmailThread, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.TenantID == in.TenantID && existing.OriginalOutboundMessageID == in.OutboundMessageID {
			return existing, false, nil
		}
	}
	s.next++
	now := time.Now().UTC()
	thread := EmailThread{
		ID:                        fmt.Sprintf("thread_%d", s.next),
		TenantID:                  in.TenantID,
		CampaignID:                in.CampaignID,
		ContactID:                 in.ContactID,
		OriginalOutboundMessageID: in.OutboundMessageID,
		MessageID:                 in.MessageID,
		ProviderThreadID:          in.ProviderThreadID,
		IsActive:                  true,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	s.byID[thread.ID] = thread
	return thread, true, nil
}

func (s *memoryThreadStore) Get(_ context.Context, id string) (EmailThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.byID[id]
	if !ok {
		return EmailThread{}, fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	return thread, nil
}

func (s *memoryThreadStore) find(tenantID string, match func(EmailThread) bool) (EmailThread, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return EmailThread{}, false, s.findErr
	}
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		thread := s.byID[id]
		if !thread.IsActive || (tenantID != "" && thread.TenantID != tenantID) {
			continue
		}
		if match(thread) {
			return thread, true, nil
		}
	}
	return EmailThread{}, false, nil
}

func (s *memoryThreadStore) FindActiveByMessageID(_ context.Context, tenantID string, messageID string) (EmailThread, bool, error) {
	return s.find(tenantID, func(thread EmailThread) bool { return thread.MessageID == messageID })
}

func (s *memoryThreadStore) FindActiveByProviderThreadID(_ context.Context, tenantID string, providerThreadID string) (EmailThread, bool, error) {
	return s.find(tenantID, func(thread EmailThread) bool { return thread.ProviderThreadID == providerThreadID })
}

func (s *memoryThreadStore) FindActiveByOutboundMessageID(_ context.Context, tenantID string, outboundMessageID string) (EmailThread, bool, error) {
	return s.find(tenantID, func(thread EmailThread) bool { return thread.OriginalOutboundMessageID == outboundMessageID })
}

func (s *memoryThreadStore) GetActive(_ context.Context, id string) (EmailThread, bool, error) {
	return s.find("", func(thread EmailThread) bool { return thread.ID == id })
}

func (s *memoryThreadStore) RecordReply(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	thread.ReplyCount++
	if thread.LastReplyAt == nil || at.After(*thread.LastReplyAt) {
		value := at.UTC()
		thread.LastReplyAt = &value
	}
	s.byID[id] = thread
	return nil
}

func (s *memoryThreadStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	thread.IsActive = false
	s.byID[id] = thread
	return nil
}

type memoryReplyEventLog struct {
	mu     sync.Mutex
	next   int
	events []ReplyEvent
}

func (l *memoryReplyEventLog) append(event ReplyEvent) ReplyEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	event.ID = fmt.Sprintf("evt_%d", l.next)
	event.CreatedAt = time.Now().UTC()
	l.events = append(l.events, event)
	return event
}

func (l *memoryReplyEventLog) List(_ context.Context, filter ReplyEventFilter) ([]ReplyEvent, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	matched := []ReplyEvent{}
	for _, event := range l.events {
		if filter.TenantID != "" && event.TenantID != filter.TenantID {
			continue
		}
		if filter.OutboundMessageID != "" && event.OutboundMessageID != filter.OutboundMessageID {
			continue
		}
		matched = append(matched, event)
	}
	total := len(matched)
	if filter.Offset >= total {
		return []ReplyEvent{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return append([]ReplyEvent(nil), matched[filter.Offset:end]...), total, nil
}

func (l *memoryReplyEventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type memoryInboundStore struct {
	mu      sync.Mutex
	next    int
	byID    map[string]InboundMessage
	byKey   map[string]string
	threads *memoryThreadStore
	events  *memoryReplyEventLog
}

func newMemoryInboundStore(threads *memoryThreadStore, events *memoryReplyEventLog) *memoryInboundStore {
	return &memoryInboundStore{
		byID:    map[string]InboundMessage{},
		byKey:   map[string]string{},
		threads: threads,
		events:  events,
	}
}

func (s *memoryInboundStore) Reserve(_ context.Context, msg InboundMessage) (InboundMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := msg.Provider + "|" + msg.ProviderMessageID
	if id, ok := s.byKey[key]; ok {
		return s.byID[id], false, nil
	}
	s.next++
	msg.ID = fmt.Sprintf("in_%d", s.next)
	msg.CreatedAt = time.Now().UTC()
	s.byID[msg.ID] = msg
	s.byKey[key] = msg.ID
	return msg, true, nil
}

func (s *memoryInboundStore) Get(_ context.Context, id string) (InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return InboundMessage{}, fmt.Errorf("%w: inbound message %s", ErrNotFound, id)
	}
	return msg, nil
}

func (s *memoryInboundStore) FindMatchedByConversationID(_ context.Context, tenantID string, conversationID string) (InboundMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.byID {
		if !msg.Processed || msg.MatchedThreadID == "" || msg.ConversationID != conversationID {
			continue
		}
		if tenantID != "" && msg.TenantID != tenantID {
			continue
		}
		return msg, true, nil
	}
	return InboundMessage{}, false, nil
}

func (s *memoryInboundStore) CommitMatch(ctx context.Context, in CommitMatchInput) (CommitMatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[in.InboundMessageID]
	if !ok {
		return CommitMatchResult{}, fmt.Errorf("%w: inbound message %s", ErrNotFound, in.InboundMessageID)
	}
	if msg.Processed {
		return CommitMatchResult{Committed: false}, nil
	}
	processedAt := in.ProcessedAt
	msg.Processed = true
	msg.ProcessedAt = &processedAt
	msg.MatchMethod = in.Match.Method
	msg.MatchConfidence = in.Match.Confidence
	if in.Match.IsReply {
		msg.MatchedThreadID = in.Match.ThreadID
		if msg.TenantID == "" {
			msg.TenantID = in.Match.TenantID
		}
	}
	s.byID[msg.ID] = msg
	if !in.Match.IsReply {
		return CommitMatchResult{Committed: true}, nil
	}
	if err := s.threads.RecordReply(ctx, in.Match.ThreadID, in.ReceivedAt); err != nil {
		return CommitMatchResult{}, err
	}
	event := s.events.append(NewReplyEvent(msg.ID, in.Match, in.ReceivedAt, in.Source))
	return CommitMatchResult{Committed: true, ReplyEvent: &event}, nil
}

type memoryOutboundStore struct {
	mu      sync.Mutex
	next    int
	byID    map[string]OutboundMessage
	listErr error
}

func newMemoryOutboundStore() *memoryOutboundStore {
	return &memoryOutboundStore{byID: map[string]OutboundMessage{}}
}

func (s *memoryOutboundStore) Enqueue(_ context.Context, in QueueOutboundInput) (OutboundMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.TenantID == in.TenantID && existing.DedupeKey == in.DedupeKey {
			return existing, false, nil
		}
	}
	s.next++
	now := time.Now().UTC()
	msg := OutboundMessage{
		ID:               fmt.Sprintf("out_%d", s.next),
		TenantID:         in.TenantID,
		CampaignID:       in.CampaignID,
		ContactID:        in.ContactID,
		Channel:          in.Channel,
		RecipientAddress: in.RecipientAddress,
		Subject:          in.Subject,
		DedupeKey:        in.DedupeKey,
		State:            in.State,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.byID[msg.ID] = msg
	return msg, true, nil
}

func (s *memoryOutboundStore) Get(_ context.Context, id string) (OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return OutboundMessage{}, fmt.Errorf("%w: outbound message %s", ErrNotFound, id)
	}
	return msg, nil
}

func (s *memoryOutboundStore) MarkSent(_ context.Context, in MarkSentInput) (OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[in.OutboundMessageID]
	if !ok {
		return OutboundMessage{}, fmt.Errorf("%w: outbound message %s", ErrNotFound, in.OutboundMessageID)
	}
	if !msg.State.CanTransitionTo(OutboundStateSent) {
		return OutboundMessage{}, fmt.Errorf("%w: outbound message %s is %s", ErrInvalidTransition, msg.ID, msg.State)
	}
	sentAt := in.SentAt
	msg.State = OutboundStateSent
	msg.ProviderMessageID = in.ProviderMessageID
	msg.MessageID = in.MessageID
	msg.SentAt = &sentAt
	s.byID[msg.ID] = msg
	return msg, nil
}

func (s *memoryOutboundStore) UpdateState(_ context.Context, id string, state OutboundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbound message %s", ErrNotFound, id)
	}
	if !msg.State.CanTransitionTo(state) {
		return fmt.Errorf("%w: outbound message %s is %s", ErrInvalidTransition, id, msg.State)
	}
	msg.State = state
	s.byID[id] = msg
	return nil
}

func (s *memoryOutboundStore) ListRecentByRecipient(_ context.Context, tenantID string, channel Channel, recipient string, limit int) ([]OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []OutboundMessage{}
	for _, msg := range s.byID {
		if msg.State != OutboundStateSent || msg.Channel != channel || msg.RecipientAddress != recipient {
			continue
		}
		if tenantID != "" && msg.TenantID != tenantID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryActionStore struct {
	mu       sync.Mutex
	next     int
	byID     map[string]ScheduledAction
	claimErr error
}

func newMemoryActionStore() *memoryActionStore {
	return &memoryActionStore{byID: map[string]ScheduledAction{}}
}

func (s *memoryActionStore) Create(_ context.Context, in CreateActionInput) (ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	now := time.Now().UTC()
	action := ScheduledAction{
		ID:                fmt.Sprintf("act_%d", s.next),
		TenantID:          in.TenantID,
		CampaignID:        in.CampaignID,
		OutboundMessageID: in.OutboundMessageID,
		ActionType:        in.ActionType,
		Payload:           copyAnyMap(in.Payload),
		ScheduledAt:       in.ScheduledAt,
		Status:            ActionStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.byID[action.ID] = action
	return action, nil
}

func (s *memoryActionStore) put(action ScheduledAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[action.ID] = action
}

func (s *memoryActionStore) Get(_ context.Context, id string) (ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.byID[id]
	if !ok {
		return ScheduledAction{}, fmt.Errorf("%w: action %s", ErrNotFound, id)
	}
	return action, nil
}

func (s *memoryActionStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	due := []ScheduledAction{}
	for _, action := range s.byID {
		if action.Status == ActionStatusPending && !action.ScheduledAt.After(now) {
			due = append(due, action)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for index := range due {
		claimedAt := now
		due[index].Status = ActionStatusProcessing
		due[index].ClaimedAt = &claimedAt
		s.byID[due[index].ID] = due[index]
	}
	return due, nil
}

func (s *memoryActionStore) update(claim ActionClaim, fn func(*ScheduledAction)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.byID[claim.ID]
	if !ok {
		return fmt.Errorf("%w: action %s", ErrNotFound, claim.ID)
	}
	if action.Status != ActionStatusProcessing || action.ClaimedAt == nil ||
		(!claim.ClaimedAt.IsZero() && !action.ClaimedAt.Equal(claim.ClaimedAt)) {
		return fmt.Errorf("%w: action %s", ErrClaimLost, claim.ID)
	}
	fn(&action)
	s.byID[claim.ID] = action
	return nil
}

func (s *memoryActionStore) Complete(_ context.Context, claim ActionClaim, completedAt time.Time) error {
	return s.update(claim, func(action *ScheduledAction) {
		action.Status = ActionStatusCompleted
		action.CompletedAt = &completedAt
		action.ClaimedAt = nil
	})
}

func (s *memoryActionStore) Retry(_ context.Context, claim ActionClaim, cause error, nextAt time.Time) error {
	return s.update(claim, func(action *ScheduledAction) {
		action.AttemptCount++
		action.LastError = cause.Error()
		action.Status = ActionStatusPending
		action.ScheduledAt = nextAt
		action.ClaimedAt = nil
	})
}

func (s *memoryActionStore) Fail(_ context.Context, claim ActionClaim, cause error) error {
	return s.update(claim, func(action *ScheduledAction) {
		action.AttemptCount++
		action.LastError = cause.Error()
		action.Status = ActionStatusFailed
		action.ClaimedAt = nil
	})
}

func (s *memoryActionStore) Defer(_ context.Context, claim ActionClaim, nextAt time.Time, reason string) error {
	return s.update(claim, func(action *ScheduledAction) {
		action.LastError = reason
		action.Status = ActionStatusPending
		action.ScheduledAt = nextAt
		action.ClaimedAt = nil
	})
}

func (s *memoryActionStore) Cancel(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: action %s", ErrNotFound, id)
	}
	if action.Status != ActionStatusPending {
		return false, nil
	}
	action.Status = ActionStatusCanceled
	s.byID[id] = action
	return true, nil
}

func (s *memoryActionStore) ReleaseStale(_ context.Context, claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for id, action := range s.byID {
		if action.Status != ActionStatusProcessing || action.ClaimedAt == nil || !action.ClaimedAt.Before(claimedBefore) {
			continue
		}
		action.Status = ActionStatusPending
		action.ClaimedAt = nil
		s.byID[id] = action
		released++
	}
	return released, nil
}

type memorySubscriptionStore struct {
	mu   sync.Mutex
	next int
	byID map[string]MailboxSubscription
}

func newMemorySubscriptionStore() *memorySubscriptionStore {
	return &memorySubscriptionStore{byID: map[string]MailboxSubscription{}}
}

func (s *memorySubscriptionStore) Upsert(_ context.Context, in UpsertMailboxSubscriptionInput) (MailboxSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.byID {
		if existing.TenantID == in.TenantID && existing.Provider == in.Provider && existing.MailboxAddress == in.MailboxAddress {
			existing.RemoteSubscriptionID = in.RemoteSubscriptionID
			existing.CallbackURL = in.CallbackURL
			existing.Status = in.Status
			existing.ExpiresAt = in.ExpiresAt
			existing.LastRenewedAt = in.LastRenewedAt
			existing.LastError = ""
			existing.Metadata = copyAnyMap(in.Metadata)
			existing.UpdatedAt = now
			s.byID[id] = existing
			return existing, nil
		}
	}
	s.next++
	record := MailboxSubscription{
		ID:                   fmt.Sprintf("sub_%d", s.next),
		TenantID:             in.TenantID,
		Provider:             in.Provider,
		MailboxAddress:       in.MailboxAddress,
		RemoteSubscriptionID: in.RemoteSubscriptionID,
		CallbackURL:          in.CallbackURL,
		Status:               in.Status,
		ExpiresAt:            in.ExpiresAt,
		LastRenewedAt:        in.LastRenewedAt,
		Metadata:             copyAnyMap(in.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	s.byID[record.ID] = record
	return record, nil
}

func (s *memorySubscriptionStore) Get(_ context.Context, id string) (MailboxSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return MailboxSubscription{}, fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	return record, nil
}

func (s *memorySubscriptionStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]MailboxSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []MailboxSubscription{}
	for _, record := range s.byID {
		if record.Status == SubscriptionStatusActive && record.ExpiresAt.Before(before) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memorySubscriptionStore) ListErrored(_ context.Context, updatedBefore time.Time, limit int) ([]MailboxSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []MailboxSubscription{}
	for _, record := range s.byID {
		if record.Status == SubscriptionStatusErrored && record.UpdatedAt.Before(updatedBefore) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memorySubscriptionStore) UpdateState(_ context.Context, id string, status SubscriptionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	record.Status = status
	record.LastError = strings.TrimSpace(reason)
	record.UpdatedAt = time.Now().UTC()
	s.byID[id] = record
	return nil
}

type memoryStores struct {
	threads       *memoryThreadStore
	inbound       *memoryInboundStore
	outbound      *memoryOutboundStore
	actions       *memoryActionStore
	events        *memoryReplyEventLog
	subscriptions *memorySubscriptionStore
}

func newMemoryStores() *memoryStores {
	threads := newMemoryThreadStore()
	events := &memoryReplyEventLog{}
	return &memoryStores{
		threads:       threads,
		inbound:       newMemoryInboundStore(threads, events),
		outbound:      newMemoryOutboundStore(),
		actions:       newMemoryActionStore(),
		events:        events,
		subscriptions: newMemorySubscriptionStore(),
	}
}

func (m *memoryStores) ThreadStore() ThreadStore                   { return m.threads }
func (m *memoryStores) InboundMessageStore() InboundMessageStore   { return m.inbound }
func (m *memoryStores) OutboundMessageStore() OutboundMessageStore { return m.outbound }
func (m *memoryStores) ScheduledActionStore() ScheduledActionStore { return m.actions }
func (m *memoryStores) ReplyEventLog() ReplyEventLog               { return m.events }
func (m *memoryStores) MailboxSubscriptionStore() MailboxSubscriptionStore {
	return m.subscriptions
}

var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t interface{ Fatalf(string, ...any) }, stores *memoryStores, opts ...Option) *Service {
	base := []Option{
		WithRepositoryFactory(stores),
		WithClock(func() time.Time { return fixedNow }),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

// seedSentThread queues, sends and registers a thread for one outbound email.
func seedSentThread(t interface{ Fatalf(string, ...any) }, svc *Service, tenantID, dedupeKey, recipient, subject, messageID string) (OutboundMessage, string) {
	ctx := context.Background()
	queued, _, err := svc.QueueOutbound(ctx, QueueOutboundRequest{
		TenantID:         tenantID,
		CampaignID:       "camp_1",
		ContactID:        "contact_1",
		Channel:          ChannelEmail,
		RecipientAddress: recipient,
		Subject:          subject,
		DedupeKey:        dedupeKey,
	})
	if err != nil {
		t.Fatalf("queue outbound: %v", err)
	}
	sent, threadID, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{
		OutboundMessageID: queued.ID,
		ProviderMessageID: "prov_" + dedupeKey,
		MessageID:         messageID,
		SentAt:            fixedNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("mark outbound sent: %v", err)
	}
	return sent, threadID
}

type testMailboxProvider struct {
	id           string
	mu           sync.Mutex
	renewErr     error
	subscribeErr error
	cancelErr    error
	renewCalls   int32
	subCalls     int32
	cancelCalls  int32
	renewDelay   time.Duration
}

func (p *testMailboxProvider) ID() string { return p.id }

func (p *testMailboxProvider) Subscribe(_ context.Context, req MailboxSubscribeRequest) (MailboxSubscriptionResult, error) {
	atomic.AddInt32(&p.subCalls, 1)
	p.mu.Lock()
	err := p.subscribeErr
	p.mu.Unlock()
	if err != nil {
		return MailboxSubscriptionResult{}, err
	}
	return MailboxSubscriptionResult{
		RemoteSubscriptionID: fmt.Sprintf("remote_%s_%d", req.MailboxAddress, atomic.LoadInt32(&p.subCalls)),
		ExpiresAt:            fixedNow.Add(72 * time.Hour),
		Metadata:             map[string]any{"kind": "subscribe"},
	}, nil
}

func (p *testMailboxProvider) Renew(ctx context.Context, subscription MailboxSubscription) (MailboxSubscriptionResult, error) {
	atomic.AddInt32(&p.renewCalls, 1)
	if p.renewDelay > 0 {
		select {
		case <-ctx.Done():
			return MailboxSubscriptionResult{}, ctx.Err()
		case <-time.After(p.renewDelay):
		}
	}
	p.mu.Lock()
	err := p.renewErr
	p.mu.Unlock()
	if err != nil {
		return MailboxSubscriptionResult{}, err
	}
	return MailboxSubscriptionResult{
		RemoteSubscriptionID: subscription.RemoteSubscriptionID,
		ExpiresAt:            fixedNow.Add(7 * 24 * time.Hour),
		Metadata:             map[string]any{"kind": "renew"},
	}, nil
}

func (p *testMailboxProvider) Cancel(context.Context, MailboxSubscription) error {
	atomic.AddInt32(&p.cancelCalls, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelErr
}

type recordingSink struct {
	mu     sync.Mutex
	events []ReplyEvent
	err    error
}

func (s *recordingSink) OnReply(_ context.Context, event ReplyEvent, _ MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
