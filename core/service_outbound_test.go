package core

import (
	"context"
	"testing"
	"time"
)

func TestQueueOutbound_DedupesByTenantAndKey(t *testing.T) {
	stores := newMemoryStores()
	svc := newTestService(t, stores)
	ctx := context.Background()
	req := QueueOutboundRequest{
		TenantID:         "tenant_1",
		CampaignID:       "camp_1",
		RecipientAddress: "Lead <LEAD@example.com>",
		Subject:          " Intro ",
		DedupeKey:        "camp_1:contact_1:step_1",
	}

	first, created, err := svc.QueueOutbound(ctx, req)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !created || first.State != OutboundStateQueued || first.Channel != ChannelEmail {
		t.Fatalf("unexpected first queue result %#v created=%v", first, created)
	}
	if first.RecipientAddress != "lead@example.com" || first.Subject != "Intro" {
		t.Fatalf("expected normalized recipient and subject, got %#v", first)
	}

	second, created, err := svc.QueueOutbound(ctx, req)
	if err != nil {
		t.Fatalf("queue again: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected dedupe to return the original row, got %#v created=%v", second, created)
	}

	req.TenantID = "tenant_2"
	other, created, err := svc.QueueOutbound(ctx, req)
	if err != nil {
		t.Fatalf("queue other tenant: %v", err)
	}
	if !created || other.ID == first.ID {
		t.Fatalf("expected dedupe to be tenant scoped")
	}
}

func TestQueueOutbound_RejectsUnsupportedChannel(t *testing.T) {
	svc := newTestService(t, newMemoryStores())
	_, _, err := svc.QueueOutbound(context.Background(), QueueOutboundRequest{
		TenantID:         "tenant_1",
		Channel:          Channel("fax"),
		RecipientAddress: "+1555",
		DedupeKey:        "k1",
	})
	if !HasTextCode(err, ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestMarkOutboundSent_RegistersThreadOnce(t *testing.T) {
	stores := newMemoryStores()
	svc := newTestService(t, stores)
	ctx := context.Background()
	queued, _, err := svc.QueueOutbound(ctx, QueueOutboundRequest{
		TenantID:         "tenant_1",
		CampaignID:       "camp_1",
		ContactID:        "contact_1",
		RecipientAddress: "lead@example.com",
		DedupeKey:        "k1",
	})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	sent, threadID, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{
		OutboundMessageID: queued.ID,
		ProviderMessageID: "gm_out_1",
		MessageID:         "<abc@mail.example.com>",
		ProviderThreadID:  "gthread_1",
	})
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if sent.State != OutboundStateSent || sent.SentAt == nil || !sent.SentAt.Equal(fixedNow) {
		t.Fatalf("expected sent state stamped with the clock, got %#v", sent)
	}
	if sent.MessageID != "abc@mail.example.com" {
		t.Fatalf("expected normalized message id, got %q", sent.MessageID)
	}
	thread, err := svc.GetThread(ctx, threadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if thread.CampaignID != "camp_1" || thread.ProviderThreadID != "gthread_1" || !thread.IsActive {
		t.Fatalf("unexpected thread %#v", thread)
	}

	_, replayed, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{
		OutboundMessageID: queued.ID,
		MessageID:         "<abc@mail.example.com>",
		SentAt:            fixedNow.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("mark sent again: %v", err)
	}
	if replayed != threadID {
		t.Fatalf("expected replay to return thread %s, got %s", threadID, replayed)
	}
}

func TestMarkOutboundSent_WithoutMessageIDSkipsThread(t *testing.T) {
	stores := newMemoryStores()
	svc := newTestService(t, stores)
	ctx := context.Background()
	queued, _, err := svc.QueueOutbound(ctx, QueueOutboundRequest{
		TenantID:         "tenant_1",
		Channel:          ChannelSMS,
		RecipientAddress: "+15550100",
		DedupeKey:        "sms_1",
	})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	_, threadID, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{OutboundMessageID: queued.ID})
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if threadID != "" || len(stores.threads.byID) != 0 {
		t.Fatalf("expected no thread for a message without a Message-ID")
	}
}

func TestOutboundStateTransitions(t *testing.T) {
	stores := newMemoryStores()
	svc := newTestService(t, stores)
	ctx := context.Background()
	queue := func(key string) OutboundMessage {
		t.Helper()
		msg, _, err := svc.QueueOutbound(ctx, QueueOutboundRequest{
			TenantID:         "tenant_1",
			RecipientAddress: "lead@example.com",
			DedupeKey:        key,
		})
		if err != nil {
			t.Fatalf("queue %s: %v", key, err)
		}
		return msg
	}

	failed := queue("k1")
	if err := svc.MarkOutboundFailed(ctx, failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got := stores.outbound.byID[failed.ID].State; got != OutboundStateFailed {
		t.Fatalf("expected failed state, got %s", got)
	}
	if err := svc.CancelOutbound(ctx, failed.ID); !HasTextCode(err, ErrorConflict) {
		t.Fatalf("expected failed message to reject cancel, got %v", err)
	}

	canceled := queue("k2")
	if err := svc.CancelOutbound(ctx, canceled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{
		OutboundMessageID: canceled.ID,
		MessageID:         "<late@mail>",
	}); !HasTextCode(err, ErrorConflict) {
		t.Fatalf("expected canceled message to reject send, got %v", err)
	}
	if len(stores.threads.byID) != 0 {
		t.Fatalf("expected no thread for a rejected send")
	}

	sent := queue("k3")
	if _, _, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{OutboundMessageID: sent.ID, MessageID: "<sent@mail>"}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	first := stores.outbound.byID[sent.ID]
	if _, _, err := svc.MarkOutboundSent(ctx, MarkOutboundSentRequest{
		OutboundMessageID: sent.ID,
		MessageID:         "<resent@mail>",
		SentAt:            fixedNow.Add(time.Hour),
	}); !HasTextCode(err, ErrorConflict) {
		t.Fatalf("expected second send to conflict, got %v", err)
	}
	if got := stores.outbound.byID[sent.ID]; got.MessageID != first.MessageID || !got.SentAt.Equal(*first.SentAt) {
		t.Fatalf("expected the first send to stand, got %#v", got)
	}
	if err := svc.MarkOutboundFailed(ctx, sent.ID); !HasTextCode(err, ErrorConflict) {
		t.Fatalf("expected sent message to reject failure, got %v", err)
	}

	if err := svc.CancelOutbound(ctx, "out_missing"); !HasTextCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOutboundStateTransitionTable(t *testing.T) {
	cases := []struct {
		from, to OutboundState
		want     bool
	}{
		{OutboundStateQueued, OutboundStateScheduled, true},
		{OutboundStateQueued, OutboundStateSent, true},
		{OutboundStateScheduled, OutboundStateSent, true},
		{OutboundStateScheduled, OutboundStateCanceled, true},
		{OutboundStateScheduled, OutboundStateScheduled, false},
		{OutboundStateSent, OutboundStateFailed, false},
		{OutboundStateSent, OutboundStateSent, false},
		{OutboundStateCanceled, OutboundStateSent, false},
		{OutboundStateFailed, OutboundStateQueued, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestThreadLifecycle(t *testing.T) {
	stores := newMemoryStores()
	svc := newTestService(t, stores)
	ctx := context.Background()

	if _, err := svc.CreateEmailThread(ctx, CreateEmailThreadRequest{TenantID: "tenant_1", OutboundMessageID: "out_1"}); !HasTextCode(err, ErrorBadInput) {
		t.Fatalf("expected missing message id to be rejected, got %v", err)
	}

	threadID, err := svc.CreateEmailThread(ctx, CreateEmailThreadRequest{
		TenantID:          "tenant_1",
		OutboundMessageID: "out_1",
		MessageID:         "<thread@mail>",
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	again, err := svc.CreateEmailThread(ctx, CreateEmailThreadRequest{
		TenantID:          "tenant_1",
		OutboundMessageID: "out_1",
		MessageID:         "<other@mail>",
	})
	if err != nil || again != threadID {
		t.Fatalf("expected idempotent create, got %s err=%v", again, err)
	}

	if err := svc.DeactivateThread(ctx, threadID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	outcome, err := svc.ProcessInbound(ctx, InboundEmail{
		Provider:          "gmail",
		ProviderMessageID: "gm_1",
		InReplyTo:         "<thread@mail>",
	})
	if err != nil {
		t.Fatalf("process inbound: %v", err)
	}
	if outcome.Kind != InboundKindUnrelated {
		t.Fatalf("expected inactive thread not to match, got %s", outcome.Kind)
	}
}
