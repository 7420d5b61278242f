package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-outreach/core"
	outreachmigrations "github.com/goliatone/go-outreach/migrations"
	"github.com/goliatone/go-outreach/providers/devkit"
	sqlstore "github.com/goliatone/go-outreach/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-outreach-tests"
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{
		"outreach_email_threads",
		"outreach_inbound_messages",
		"outreach_outbound_messages",
		"outreach_scheduled_actions",
		"outreach_reply_events",
		"outreach_mailbox_subscriptions",
	} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestRepositoryFactory_BuildsAllStores(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory := sqlstore.NewRepositoryFactory()
	provider, err := factory.BuildStores(client)
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	if provider.ThreadStore() == nil || provider.InboundMessageStore() == nil || provider.OutboundMessageStore() == nil {
		t.Fatalf("expected thread, inbound and outbound stores")
	}
	if provider.ScheduledActionStore() == nil || provider.ReplyEventLog() == nil || provider.MailboxSubscriptionStore() == nil {
		t.Fatalf("expected action, reply event and subscription stores")
	}
	if factory.DB() != client.DB() {
		t.Fatalf("expected factory to reuse the persistence client db")
	}

	if _, err := sqlstore.NewRepositoryFactory().BuildStores(struct{}{}); err == nil {
		t.Fatalf("expected unsupported persistence client to fail")
	}
	if _, err := sqlstore.NewRepositoryFactory().BuildStores(nil); err == nil {
		t.Fatalf("expected nil persistence client to fail")
	}
}

func TestThreadStore_CreateIsIdempotentAndFindersFilterActive(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ThreadStore()

	input := core.CreateThreadInput{
		TenantID:          "tenant_1",
		CampaignID:        "camp_1",
		ContactID:         "contact_1",
		OutboundMessageID: "out_1",
		MessageID:         "abc@mail.example.com",
		ProviderThreadID:  "gthread_1",
	}
	thread, created, err := store.Create(ctx, input)
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if !created || !thread.IsActive || thread.ID == "" {
		t.Fatalf("unexpected created thread %#v created=%v", thread, created)
	}

	input.MessageID = "other@mail.example.com"
	replay, created, err := store.Create(ctx, input)
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if created || replay.ID != thread.ID || replay.MessageID != "abc@mail.example.com" {
		t.Fatalf("expected replay to return the original thread, got %#v created=%v", replay, created)
	}

	found, ok, err := store.FindActiveByMessageID(ctx, "tenant_1", "abc@mail.example.com")
	if err != nil || !ok || found.ID != thread.ID {
		t.Fatalf("find by message id: ok=%v err=%v thread=%#v", ok, err, found)
	}
	if _, ok, _ := store.FindActiveByMessageID(ctx, "tenant_2", "abc@mail.example.com"); ok {
		t.Fatalf("expected tenant filter to hide the thread")
	}
	if _, ok, _ := store.FindActiveByMessageID(ctx, "", "abc@mail.example.com"); !ok {
		t.Fatalf("expected blank tenant to match any tenant")
	}
	if _, ok, _ := store.FindActiveByProviderThreadID(ctx, "tenant_1", "gthread_1"); !ok {
		t.Fatalf("expected provider thread lookup to match")
	}
	if _, ok, _ := store.FindActiveByOutboundMessageID(ctx, "tenant_1", "out_1"); !ok {
		t.Fatalf("expected outbound lookup to match")
	}

	if err := store.Deactivate(ctx, thread.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok, _ := store.FindActiveByMessageID(ctx, "tenant_1", "abc@mail.example.com"); ok {
		t.Fatalf("expected deactivated thread to be hidden from finders")
	}
	if _, ok, _ := store.GetActive(ctx, thread.ID); ok {
		t.Fatalf("expected GetActive to skip inactive threads")
	}
	stored, err := store.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("expected inactive thread row to remain readable")
	}

	if _, err := store.Get(ctx, "00000000-0000-0000-0000-000000000001"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Deactivate(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on deactivate, got %v", err)
	}
}

func TestThreadStore_RecordReplyIsAtomicAndMonotonic(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ThreadStore()
	thread, _, err := store.Create(ctx, core.CreateThreadInput{
		TenantID:          "tenant_1",
		OutboundMessageID: "out_1",
		MessageID:         "abc@mail",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	later := testNow.Add(2 * time.Hour)
	earlier := testNow.Add(time.Hour)
	if err := store.RecordReply(ctx, thread.ID, later); err != nil {
		t.Fatalf("record reply: %v", err)
	}
	if err := store.RecordReply(ctx, thread.ID, earlier); err != nil {
		t.Fatalf("record earlier reply: %v", err)
	}

	stored, err := store.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ReplyCount != 2 {
		t.Fatalf("expected reply_count=2, got %d", stored.ReplyCount)
	}
	if stored.LastReplyAt == nil || !stored.LastReplyAt.Equal(later) {
		t.Fatalf("expected last_reply_at to stay at the latest reply %s, got %v", later, stored.LastReplyAt)
	}

	if err := store.RecordReply(ctx, "missing", testNow); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInboundMessageStore_ReserveAndCommitOnce(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	threads := factory.ThreadStore()
	inbound := factory.InboundMessageStore()

	thread, _, err := threads.Create(ctx, core.CreateThreadInput{
		TenantID:          "tenant_1",
		CampaignID:        "camp_1",
		OutboundMessageID: "out_1",
		MessageID:         "abc@mail",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	msg := core.InboundMessage{
		Provider:          "gmail",
		ProviderMessageID: "gm_1",
		Channel:           core.ChannelEmail,
		FromEmail:         "lead@example.com",
		InReplyTo:         "abc@mail",
		ConversationID:    "conv_1",
		ReceivedAt:        testNow,
	}
	stored, created, err := inbound.Reserve(ctx, msg)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !created || stored.Processed || stored.MatchMethod != core.MatchMethodNone {
		t.Fatalf("unexpected reserved row %#v created=%v", stored, created)
	}
	again, created, err := inbound.Reserve(ctx, msg)
	if err != nil {
		t.Fatalf("reserve again: %v", err)
	}
	if created || again.ID != stored.ID {
		t.Fatalf("expected duplicate reserve to return the original row")
	}

	match := core.MatchResult{
		IsReply:           true,
		Confidence:        core.ConfidenceHigh,
		Method:            core.MatchMethodMessageID,
		ThreadID:          thread.ID,
		OutboundMessageID: "out_1",
		CampaignID:        "camp_1",
		TenantID:          "tenant_1",
	}
	commit := core.CommitMatchInput{
		InboundMessageID: stored.ID,
		Match:            match,
		ReceivedAt:       testNow,
		ProcessedAt:      testNow.Add(time.Second),
		Source:           "gmail",
	}
	first, err := inbound.CommitMatch(ctx, commit)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !first.Committed || first.ReplyEvent == nil {
		t.Fatalf("expected first commit to record a reply event, got %#v", first)
	}
	if first.ReplyEvent.Data["matchMethod"] != string(core.MatchMethodMessageID) {
		t.Fatalf("expected match method in event data, got %#v", first.ReplyEvent.Data)
	}
	second, err := inbound.CommitMatch(ctx, commit)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if second.Committed || second.ReplyEvent != nil {
		t.Fatalf("expected second commit to be a no-op, got %#v", second)
	}

	updatedThread, err := threads.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if updatedThread.ReplyCount != 1 {
		t.Fatalf("expected one reply, got %d", updatedThread.ReplyCount)
	}

	processed, err := inbound.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get inbound: %v", err)
	}
	if !processed.Processed || processed.MatchedThreadID != thread.ID || processed.TenantID != "tenant_1" {
		t.Fatalf("expected processed annotation, got %#v", processed)
	}
	byConversation, ok, err := inbound.FindMatchedByConversationID(ctx, "tenant_1", "conv_1")
	if err != nil || !ok || byConversation.ID != stored.ID {
		t.Fatalf("find by conversation: ok=%v err=%v", ok, err)
	}

	events, total, err := factory.ReplyEventLog().List(ctx, core.ReplyEventFilter{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 1 || len(events) != 1 || events[0].InboundMessageID != stored.ID {
		t.Fatalf("expected one reply event, got total=%d events=%#v", total, events)
	}

	if _, err := inbound.CommitMatch(ctx, core.CommitMatchInput{
		InboundMessageID: "missing",
		Match:            core.NoMatch(),
	}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for a missing inbound row, got %v", err)
	}
}

func TestCachedThreadStore_CommittedReplyEvictsCachedThread(t *testing.T) {
	ctx := context.Background()
	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithThreadCache(cacheService))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	threads := factory.ThreadStore()
	if _, ok := threads.(*sqlstore.CachedThreadStore); !ok {
		t.Fatalf("expected cached thread store, got %T", threads)
	}
	inbound := factory.InboundMessageStore()

	thread, _, err := threads.Create(ctx, core.CreateThreadInput{
		TenantID:          "tenant_1",
		CampaignID:        "camp_1",
		OutboundMessageID: "out_1",
		MessageID:         "cached@mail",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if warm, err := threads.Get(ctx, thread.ID); err != nil || warm.ReplyCount != 0 {
		t.Fatalf("warm get: %#v err=%v", warm, err)
	}
	if _, ok, err := threads.FindActiveByMessageID(ctx, "tenant_1", "cached@mail"); err != nil || !ok {
		t.Fatalf("warm find: ok=%v err=%v", ok, err)
	}

	stored, _, err := inbound.Reserve(ctx, core.InboundMessage{
		Provider:          "gmail",
		ProviderMessageID: "gm_cached",
		Channel:           core.ChannelEmail,
		InReplyTo:         "cached@mail",
		ReceivedAt:        testNow,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	result, err := inbound.CommitMatch(ctx, core.CommitMatchInput{
		InboundMessageID: stored.ID,
		Match: core.MatchResult{
			IsReply:    true,
			Confidence: core.ConfidenceHigh,
			Method:     core.MatchMethodMessageID,
			ThreadID:   thread.ID,
			TenantID:   "tenant_1",
		},
		ReceivedAt: testNow,
		Source:     "gmail",
	})
	if err != nil || !result.Committed {
		t.Fatalf("commit: %#v err=%v", result, err)
	}

	byID, err := threads.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if byID.ReplyCount != 1 || byID.LastReplyAt == nil {
		t.Fatalf("expected cached read to see the committed reply, got %#v", byID)
	}
	byMessageID, ok, err := threads.FindActiveByMessageID(ctx, "tenant_1", "cached@mail")
	if err != nil || !ok {
		t.Fatalf("find after commit: ok=%v err=%v", ok, err)
	}
	if byMessageID.ReplyCount != 1 {
		t.Fatalf("expected message-id lookup to see the committed reply, got %d", byMessageID.ReplyCount)
	}

	if err := threads.Deactivate(ctx, thread.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok, _ := threads.FindActiveByMessageID(ctx, "tenant_1", "cached@mail"); ok {
		t.Fatalf("expected deactivated thread to drop out of the cache")
	}
}

func TestInboundMessageStore_NoMatchCommitSkipsEvent(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	inbound := factory.InboundMessageStore()
	stored, _, err := inbound.Reserve(ctx, core.InboundMessage{
		Provider:          "outlook",
		ProviderMessageID: "ol_1",
		ReceivedAt:        testNow,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	result, err := inbound.CommitMatch(ctx, core.CommitMatchInput{
		InboundMessageID: stored.ID,
		Match:            core.NoMatch(),
		ReceivedAt:       testNow,
		ProcessedAt:      testNow,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !result.Committed || result.ReplyEvent != nil {
		t.Fatalf("expected committed no-match without event, got %#v", result)
	}
	if _, total, _ := factory.ReplyEventLog().List(ctx, core.ReplyEventFilter{}); total != 0 {
		t.Fatalf("expected no reply events, got %d", total)
	}
}

func TestInboundMessageStore_PassesDevkitConformance(t *testing.T) {
	factory := newFactory(t)
	err := devkit.ValidateInboundMessageStoreConformance(context.Background(), factory.InboundMessageStore(), core.InboundMessage{
		Provider:          "graph",
		ProviderMessageID: "AAMk_1",
		Channel:           core.ChannelEmail,
		FromEmail:         "lead@example.com",
		ReceivedAt:        testNow,
	})
	if err != nil {
		t.Fatalf("inbound store conformance: %v", err)
	}
}

func TestOutboundMessageStore_DedupeMarkSentAndRecentByRecipient(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.OutboundMessageStore()

	input := core.QueueOutboundInput{
		TenantID:         "tenant_1",
		CampaignID:       "camp_1",
		Channel:          core.ChannelEmail,
		RecipientAddress: "lead@example.com",
		Subject:          "Intro",
		DedupeKey:        "camp_1:contact_1:1",
	}
	first, created, err := store.Enqueue(ctx, input)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	if first.State != core.OutboundStateQueued {
		t.Fatalf("expected queued state, got %s", first.State)
	}
	dup, created, err := store.Enqueue(ctx, input)
	if err != nil {
		t.Fatalf("enqueue dup: %v", err)
	}
	if created || dup.ID != first.ID {
		t.Fatalf("expected dedupe to return the original row")
	}

	input.DedupeKey = "camp_1:contact_1:2"
	input.Subject = "Follow up"
	second, _, err := store.Enqueue(ctx, input)
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	for index, msg := range []core.OutboundMessage{first, second} {
		sent, err := store.MarkSent(ctx, core.MarkSentInput{
			OutboundMessageID: msg.ID,
			ProviderMessageID: fmt.Sprintf("gm_out_%d", index),
			MessageID:         fmt.Sprintf("m%d@mail", index),
			SentAt:            testNow.Add(time.Duration(index) * time.Hour),
		})
		if err != nil {
			t.Fatalf("mark sent: %v", err)
		}
		if sent.State != core.OutboundStateSent || sent.SentAt == nil {
			t.Fatalf("expected sent row, got %#v", sent)
		}
	}

	recent, err := store.ListRecentByRecipient(ctx, "tenant_1", core.ChannelEmail, "lead@example.com", 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != second.ID {
		t.Fatalf("expected newest send first, got %#v", recent)
	}
	if none, _ := store.ListRecentByRecipient(ctx, "tenant_1", core.ChannelSMS, "lead@example.com", 10); len(none) != 0 {
		t.Fatalf("expected channel filter to apply")
	}

	if err := store.UpdateState(ctx, first.ID, core.OutboundStateCanceled); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("expected sent message to reject cancel, got %v", err)
	}
	if err := store.UpdateState(ctx, "missing", core.OutboundStateCanceled); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOutboundMessageStore_TransitionsAreConditional(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.OutboundMessageStore()
	enqueue := func(key string) core.OutboundMessage {
		t.Helper()
		msg, _, err := store.Enqueue(ctx, core.QueueOutboundInput{
			TenantID:         "tenant_1",
			Channel:          core.ChannelEmail,
			RecipientAddress: "lead@example.com",
			DedupeKey:        key,
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
		return msg
	}

	canceled := enqueue("cancel-then-send")
	if err := store.UpdateState(ctx, canceled.ID, core.OutboundStateCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := store.MarkSent(ctx, core.MarkSentInput{OutboundMessageID: canceled.ID, MessageID: "late@mail"}); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("expected canceled message to reject send, got %v", err)
	}
	if got, _ := store.Get(ctx, canceled.ID); got.State != core.OutboundStateCanceled || got.SentAt != nil {
		t.Fatalf("expected canceled row to be untouched, got %#v", got)
	}

	scheduled := enqueue("schedule-then-send")
	if err := store.UpdateState(ctx, scheduled.ID, core.OutboundStateScheduled); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := store.UpdateState(ctx, scheduled.ID, core.OutboundStateScheduled); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("expected scheduling twice to conflict, got %v", err)
	}
	sent, err := store.MarkSent(ctx, core.MarkSentInput{
		OutboundMessageID: scheduled.ID,
		ProviderMessageID: "prov_1",
		MessageID:         "first@mail",
		SentAt:            testNow,
	})
	if err != nil {
		t.Fatalf("mark scheduled sent: %v", err)
	}
	if _, err := store.MarkSent(ctx, core.MarkSentInput{
		OutboundMessageID: scheduled.ID,
		ProviderMessageID: "prov_2",
		MessageID:         "second@mail",
		SentAt:            testNow.Add(time.Hour),
	}); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("expected second send to conflict, got %v", err)
	}
	if err := store.UpdateState(ctx, scheduled.ID, core.OutboundStateFailed); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("expected sent message to reject failure, got %v", err)
	}
	got, err := store.Get(ctx, scheduled.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != core.OutboundStateSent || got.MessageID != sent.MessageID || got.ProviderMessageID != "prov_1" || !got.SentAt.Equal(*sent.SentAt) {
		t.Fatalf("expected the first send to stand, got %#v", got)
	}
	if err := store.UpdateState(ctx, scheduled.ID, core.OutboundStateQueued); err == nil {
		t.Fatalf("expected queued to be rejected as a target state")
	}
}

func TestScheduledActionStore_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ScheduledActionStore()

	due, err := store.Create(ctx, core.CreateActionInput{
		TenantID:    "tenant_1",
		ActionType:  core.ActionSendEmail,
		Payload:     map[string]any{"step": "1"},
		ScheduledAt: testNow.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create due action: %v", err)
	}
	future, err := store.Create(ctx, core.CreateActionInput{
		TenantID:    "tenant_1",
		ActionType:  core.ActionFollowUp,
		ScheduledAt: testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create future action: %v", err)
	}

	claimed, err := store.ClaimDue(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("expected only the due action to be claimed, got %#v", claimed)
	}
	if claimed[0].Status != core.ActionStatusProcessing || claimed[0].ClaimedAt == nil {
		t.Fatalf("expected processing claim, got %#v", claimed[0])
	}
	if claimed[0].Payload["step"] != "1" {
		t.Fatalf("expected payload to round trip through the claim, got %#v", claimed[0].Payload)
	}
	again, err := store.ClaimDue(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected claimed action not to be claimed twice, got %d", len(again))
	}

	nextAt := testNow.Add(30 * time.Second)
	if err := store.Retry(ctx, claimed[0].Claim(), errors.New("smtp 451"), nextAt); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := store.Retry(ctx, claimed[0].Claim(), errors.New("smtp 451"), nextAt); !errors.Is(err, core.ErrClaimLost) {
		t.Fatalf("expected a finished claim to be spent, got %v", err)
	}
	retried, err := store.Get(ctx, due.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if retried.Status != core.ActionStatusPending || retried.AttemptCount != 1 || retried.LastError != "smtp 451" {
		t.Fatalf("unexpected retried action %#v", retried)
	}
	if !retried.ScheduledAt.Equal(nextAt) || retried.ClaimedAt != nil {
		t.Fatalf("expected rescheduled unclaimed action, got %#v", retried)
	}

	second := claimOne(t, store, nextAt)
	if err := store.Defer(ctx, second.Claim(), nextAt.Add(time.Minute), "tenant circuit open"); err != nil {
		t.Fatalf("defer: %v", err)
	}
	deferred, _ := store.Get(ctx, due.ID)
	if deferred.AttemptCount != 1 {
		t.Fatalf("expected defer not to count an attempt, got %d", deferred.AttemptCount)
	}

	third := claimOne(t, store, nextAt.Add(time.Minute))
	if err := store.Fail(ctx, third.Claim(), errors.New("smtp 554")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, _ := store.Get(ctx, due.ID)
	if failed.Status != core.ActionStatusFailed || failed.AttemptCount != 2 {
		t.Fatalf("unexpected failed action %#v", failed)
	}

	canceled, err := store.Cancel(ctx, future.ID)
	if err != nil || !canceled {
		t.Fatalf("cancel pending: canceled=%v err=%v", canceled, err)
	}
	canceled, err = store.Cancel(ctx, due.ID)
	if err != nil || canceled {
		t.Fatalf("expected cancel of failed action to be refused, canceled=%v err=%v", canceled, err)
	}
	if _, err := store.Cancel(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Complete(ctx, core.ActionClaim{ID: "missing"}, testNow); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on complete, got %v", err)
	}
}

func TestScheduledActionStore_LateFinishAfterReclaimIsRejected(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ScheduledActionStore()

	action, err := store.Create(ctx, core.CreateActionInput{
		TenantID:    "tenant_1",
		ActionType:  core.ActionSendEmail,
		ScheduledAt: testNow.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	stale := claimOne(t, store, testNow)
	if released, err := store.ReleaseStale(ctx, testNow.Add(time.Minute)); err != nil || released != 1 {
		t.Fatalf("release stale: released=%d err=%v", released, err)
	}
	current := claimOne(t, store, testNow.Add(2*time.Minute))
	if current.ID != action.ID {
		t.Fatalf("expected the released action to be claimed again")
	}

	if err := store.Complete(ctx, stale.Claim(), testNow.Add(3*time.Minute)); !errors.Is(err, core.ErrClaimLost) {
		t.Fatalf("expected late complete from the first worker to be rejected, got %v", err)
	}
	if err := store.Fail(ctx, stale.Claim(), errors.New("late failure")); !errors.Is(err, core.ErrClaimLost) {
		t.Fatalf("expected late fail from the first worker to be rejected, got %v", err)
	}
	still, err := store.Get(ctx, action.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if still.Status != core.ActionStatusProcessing || still.AttemptCount != 0 {
		t.Fatalf("expected the second claim to be untouched, got %#v", still)
	}

	if err := store.Complete(ctx, current.Claim(), testNow.Add(3*time.Minute)); err != nil {
		t.Fatalf("complete current claim: %v", err)
	}
	if err := store.Defer(ctx, current.Claim(), testNow.Add(time.Hour), "late"); !errors.Is(err, core.ErrClaimLost) {
		t.Fatalf("expected completed action to reject defer, got %v", err)
	}
}

func claimOne(t *testing.T, store core.ScheduledActionStore, now time.Time) core.ScheduledAction {
	t.Helper()
	claimed, err := store.ClaimDue(context.Background(), now, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed action at %s, got %d", now, len(claimed))
	}
	return claimed[0]
}

func TestScheduledActionStore_ClaimRespectsLimitAndReleasesStale(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ScheduledActionStore()

	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, core.CreateActionInput{
			TenantID:    "tenant_1",
			ActionType:  core.ActionSendEmail,
			ScheduledAt: testNow.Add(-time.Duration(3-i) * time.Minute),
		}); err != nil {
			t.Fatalf("create action: %v", err)
		}
	}
	claimed, err := store.ClaimDue(ctx, testNow, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected claim limit of 2, got %d", len(claimed))
	}
	if !claimed[0].ScheduledAt.Before(claimed[1].ScheduledAt) {
		t.Fatalf("expected oldest due action first")
	}

	released, err := store.ReleaseStale(ctx, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 stale claims released, got %d", released)
	}
	reclaimed, err := store.ClaimDue(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 3 {
		t.Fatalf("expected all actions to be claimable again, got %d", len(reclaimed))
	}
}

func TestScheduledActionStore_ConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ScheduledActionStore()
	for i := 0; i < 20; i++ {
		if _, err := store.Create(ctx, core.CreateActionInput{
			TenantID:    "tenant_1",
			ActionType:  core.ActionSendEmail,
			ScheduledAt: testNow.Add(-time.Minute),
		}); err != nil {
			t.Fatalf("create action: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimDue(ctx, testNow, 3)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, action := range claimed {
					seen[action.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Fatalf("expected every action claimed, got %d", len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("expected action %s to be claimed once, got %d", id, count)
		}
	}
}

func TestReplyEventStore_FiltersAndPages(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	threads := factory.ThreadStore()
	inbound := factory.InboundMessageStore()

	thread, _, err := threads.Create(ctx, core.CreateThreadInput{
		TenantID:          "tenant_1",
		OutboundMessageID: "out_1",
		MessageID:         "abc@mail",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	for i := 0; i < 3; i++ {
		outboundID := "out_1"
		if i == 2 {
			outboundID = "out_2"
		}
		stored, _, err := inbound.Reserve(ctx, core.InboundMessage{
			Provider:          "gmail",
			ProviderMessageID: fmt.Sprintf("gm_%d", i),
			ReceivedAt:        testNow.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if _, err := inbound.CommitMatch(ctx, core.CommitMatchInput{
			InboundMessageID: stored.ID,
			Match: core.MatchResult{
				IsReply:           true,
				Confidence:        core.ConfidenceHigh,
				Method:            core.MatchMethodMessageID,
				ThreadID:          thread.ID,
				OutboundMessageID: outboundID,
				TenantID:          "tenant_1",
			},
			ReceivedAt:  stored.ReceivedAt,
			ProcessedAt: testNow,
			Source:      "gmail",
		}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	log := factory.ReplyEventLog()
	events, total, err := log.List(ctx, core.ReplyEventFilter{TenantID: "tenant_1", OutboundMessageID: "out_1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("expected 2 events for out_1, got total=%d len=%d", total, len(events))
	}
	if !events[0].EventAt.Before(events[1].EventAt) {
		t.Fatalf("expected events in event time order")
	}

	page, total, err := log.List(ctx, core.ReplyEventFilter{TenantID: "tenant_1", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].OutboundMessageID != "out_2" {
		t.Fatalf("expected last page with out_2, got total=%d page=%#v", total, page)
	}
}

func TestMailboxSubscriptionStore_UpsertExpiringAndState(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.MailboxSubscriptionStore()

	first, err := store.Upsert(ctx, core.UpsertMailboxSubscriptionInput{
		TenantID:             "tenant_1",
		Provider:             "gmail",
		MailboxAddress:       "sales@example.com",
		RemoteSubscriptionID: "remote_1",
		CallbackURL:          "https://hooks.example.com/gmail",
		ExpiresAt:            testNow.Add(12 * time.Hour),
		Metadata:             map[string]any{"label": "INBOX"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Status != core.SubscriptionStatusActive {
		t.Fatalf("expected default active status, got %s", first.Status)
	}
	if _, err := store.Upsert(ctx, core.UpsertMailboxSubscriptionInput{
		TenantID:       "tenant_1",
		Provider:       "gmail",
		MailboxAddress: "support@example.com",
		ExpiresAt:      testNow.Add(72 * time.Hour),
	}); err != nil {
		t.Fatalf("upsert second mailbox: %v", err)
	}

	expiring, err := store.ListExpiring(ctx, testNow.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != first.ID {
		t.Fatalf("expected only the first mailbox to be expiring, got %#v", expiring)
	}

	if err := store.UpdateState(ctx, first.ID, core.SubscriptionStatusErrored, "renew failed"); err != nil {
		t.Fatalf("update state: %v", err)
	}
	errored, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if errored.Status != core.SubscriptionStatusErrored || errored.LastError != "renew failed" {
		t.Fatalf("unexpected errored subscription %#v", errored)
	}
	if expiring, _ := store.ListExpiring(ctx, testNow.Add(24*time.Hour), 10); len(expiring) != 0 {
		t.Fatalf("expected errored subscriptions to be skipped")
	}
	if resting, err := store.ListErrored(ctx, errored.UpdatedAt.Add(-time.Minute), 10); err != nil || len(resting) != 0 {
		t.Fatalf("expected recently errored subscription to rest, got %#v err=%v", resting, err)
	}
	retry, err := store.ListErrored(ctx, errored.UpdatedAt.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list errored: %v", err)
	}
	if len(retry) != 1 || retry[0].ID != first.ID {
		t.Fatalf("expected errored subscription to be due for retry, got %#v", retry)
	}

	renewedAt := testNow
	updated, err := store.Upsert(ctx, core.UpsertMailboxSubscriptionInput{
		TenantID:             "tenant_1",
		Provider:             "gmail",
		MailboxAddress:       "sales@example.com",
		RemoteSubscriptionID: "remote_2",
		Status:               core.SubscriptionStatusActive,
		ExpiresAt:            testNow.Add(7 * 24 * time.Hour),
		LastRenewedAt:        &renewedAt,
	})
	if err != nil {
		t.Fatalf("upsert existing: %v", err)
	}
	if updated.ID != first.ID || updated.RemoteSubscriptionID != "remote_2" || updated.LastError != "" {
		t.Fatalf("expected upsert to update the same row and clear the error, got %#v", updated)
	}

	if err := store.UpdateState(ctx, "00000000-0000-0000-0000-000000000009", core.SubscriptionStatusCancelled, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_ConcurrentDuplicateInboundRecordsOneReply(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	svc, err := core.NewService(core.Config{},
		core.WithRepositoryFactory(factory),
		core.WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	queued, _, err := svc.QueueOutbound(ctx, core.QueueOutboundRequest{
		TenantID:         "tenant_1",
		CampaignID:       "camp_1",
		RecipientAddress: "lead@example.com",
		Subject:          "Intro",
		DedupeKey:        "camp_1:lead:1",
	})
	if err != nil {
		t.Fatalf("queue outbound: %v", err)
	}
	_, threadID, err := svc.MarkOutboundSent(ctx, core.MarkOutboundSentRequest{
		OutboundMessageID: queued.ID,
		MessageID:         "<intro@mail.example.com>",
	})
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	email := core.InboundEmail{
		Provider:          "gmail",
		ProviderMessageID: "gm_reply_1",
		FromEmail:         "lead@example.com",
		Subject:           "Re: Intro",
		InReplyTo:         "<intro@mail.example.com>",
		ReceivedAt:        testNow.Add(time.Hour),
	}

	const deliveries = 8
	var wg sync.WaitGroup
	outcomes := make([]core.InboundOutcome, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			outcomes[index], errs[index] = svc.ProcessInbound(ctx, email)
		}(i)
	}
	wg.Wait()

	recorded := 0
	for i := 0; i < deliveries; i++ {
		if errs[i] != nil {
			t.Fatalf("delivery %d: %v", i, errs[i])
		}
		if outcomes[i].Recorded {
			recorded++
		}
	}
	if recorded != 1 {
		t.Fatalf("expected exactly one delivery to record the reply, got %d", recorded)
	}

	thread, err := svc.GetThread(ctx, threadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if thread.ReplyCount != 1 {
		t.Fatalf("expected reply_count=1, got %d", thread.ReplyCount)
	}
	events, total, err := svc.ListReplyEvents(ctx, core.ReplyEventFilter{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("list reply events: %v", err)
	}
	if total != 1 || events[0].OutboundMessageID != queued.ID {
		t.Fatalf("expected one reply event for the outbound message, got %#v", events)
	}
}

func TestService_ScheduleAndDispatchThroughSQLStore(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	clock := testNow
	svc, err := core.NewService(core.Config{},
		core.WithRepositoryFactory(factory),
		core.WithClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	action, err := svc.ScheduleAction(ctx, core.ScheduleActionRequest{
		TenantID:   "tenant_1",
		ActionType: core.ActionFollowUp,
		Spec: core.ScheduleSpec{
			Delay:      "P3D",
			Timezone:   "America/New_York",
			QuietHours: &core.QuietHours{Start: "20:00", End: "08:00"},
		},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := time.Date(2024, 1, 4, 13, 0, 0, 0, time.UTC)
	if !action.ScheduledAt.Equal(want) {
		t.Fatalf("expected %s, got %s", want, action.ScheduledAt)
	}

	executed := 0
	dispatcher, err := svc.NewActionDispatcher(core.ActionDispatcherConfig{Workers: 2},
		core.WithActionExecutor(core.ActionFollowUp, core.ActionExecutorFunc(func(context.Context, core.ScheduledAction) error {
			executed++
			return nil
		})),
		core.WithDispatcherClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	stats, err := dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once before due: %v", err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("expected nothing due yet, got %#v", stats)
	}

	clock = want
	stats, err = dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once when due: %v", err)
	}
	if stats.Completed != 1 || executed != 1 {
		t.Fatalf("expected the action to complete once, stats=%#v executed=%d", stats, executed)
	}
	completed, err := svc.GetAction(ctx, action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if completed.Status != core.ActionStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("expected completed action, got %#v", completed)
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:outreach-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	if _, err := outreachmigrations.ApplyToClient(context.Background(), client, outreachmigrations.DialectSQLite); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
