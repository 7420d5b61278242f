package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newMatcherFixture(t *testing.T, cfg MatchingConfig) (*memoryStores, *ReplyMatcher) {
	t.Helper()
	stores := newMemoryStores()
	matcher := NewReplyMatcher(MatchLookups{
		Threads:  stores.threads,
		Inbound:  stores.inbound,
		Outbound: stores.outbound,
	}, nil, DefaultMatchStrategies(cfg)...)
	return stores, matcher
}

func seedThread(t *testing.T, stores *memoryStores, tenantID, outboundID, messageID, providerThreadID string) EmailThread {
	t.Helper()
	thread, _, err := stores.threads.Create(context.Background(), CreateThreadInput{
		TenantID:          tenantID,
		OutboundMessageID: outboundID,
		MessageID:         messageID,
		ProviderThreadID:  providerThreadID,
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return thread
}

func seedSentOutbound(t *testing.T, stores *memoryStores, tenantID, dedupeKey, recipient, subject string, sentAt time.Time) OutboundMessage {
	t.Helper()
	msg, _, err := stores.outbound.Enqueue(context.Background(), QueueOutboundInput{
		TenantID:         tenantID,
		Channel:          ChannelEmail,
		RecipientAddress: recipient,
		Subject:          subject,
		DedupeKey:        dedupeKey,
		State:            OutboundStateQueued,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sent, err := stores.outbound.MarkSent(context.Background(), MarkSentInput{OutboundMessageID: msg.ID, SentAt: sentAt})
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	return sent
}

func TestReplyMatcher_DefaultCascadeOrder(t *testing.T) {
	_, matcher := newMatcherFixture(t, DefaultConfig().Matching)
	got := matcher.Strategies()
	want := []string{"in-reply-to", "references", "provider-thread", "conversation", "subject"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	_, noSubject := newMatcherFixture(t, MatchingConfig{DisableSubjectFallback: true})
	if names := noSubject.Strategies(); len(names) != 4 {
		t.Fatalf("expected subject fallback to be disabled, got %v", names)
	}
}

func TestReplyMatcher_ReferencesUseFirstKnownID(t *testing.T) {
	stores, matcher := newMatcherFixture(t, DefaultConfig().Matching)
	older := seedThread(t, stores, "t1", "out_a", "a@mail", "")
	seedThread(t, stores, "t1", "out_b", "b@mail", "")

	result := matcher.Match(context.Background(), InboundEmail{
		References: "<missing@mail> <a@mail> <b@mail>",
	})
	if !result.IsReply || result.ThreadID != older.ID {
		t.Fatalf("expected first known reference to win, got %#v", result)
	}
	if result.Confidence != ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", result.Confidence)
	}
}

func TestReplyMatcher_ProviderThreadIsMediumConfidence(t *testing.T) {
	stores, matcher := newMatcherFixture(t, DefaultConfig().Matching)
	thread := seedThread(t, stores, "t1", "out_a", "a@mail", "gmail-thread-1")

	result := matcher.Match(context.Background(), InboundEmail{ThreadID: "gmail-thread-1"})
	if result.ThreadID != thread.ID || result.Method != MatchMethodThreadID || result.Confidence != ConfidenceMedium {
		t.Fatalf("unexpected provider thread match %#v", result)
	}
}

func TestReplyMatcher_SubjectFallbackRequiresSenderAndCorrelation(t *testing.T) {
	stores, matcher := newMatcherFixture(t, DefaultConfig().Matching)
	sent := seedSentOutbound(t, stores, "t1", "k1", "lead@example.com", "Partnership proposal", fixedNow)
	thread := seedThread(t, stores, "t1", sent.ID, "p@mail", "")

	result := matcher.Match(context.Background(), InboundEmail{
		FromEmail: "Lead <LEAD@example.com>",
		Subject:   "Fwd: RE:  partnership   proposal",
	})
	if result.ThreadID != thread.ID || result.Method != MatchMethodSubject || result.Confidence != ConfidenceLow {
		t.Fatalf("expected low confidence subject match, got %#v", result)
	}

	miss := matcher.Match(context.Background(), InboundEmail{
		FromEmail: "someone-else@example.com",
		Subject:   "Re: Partnership proposal",
	})
	if miss.IsReply {
		t.Fatalf("expected no match for a different sender, got %#v", miss)
	}

	unrelated := matcher.Match(context.Background(), InboundEmail{
		FromEmail: "lead@example.com",
		Subject:   "Invoice overdue",
	})
	if unrelated.IsReply {
		t.Fatalf("expected no match for an unrelated subject, got %#v", unrelated)
	}
}

func TestReplyMatcher_SubjectFallbackPrefersNewestSend(t *testing.T) {
	stores, matcher := newMatcherFixture(t, DefaultConfig().Matching)
	old := seedSentOutbound(t, stores, "t1", "k1", "lead@example.com", "Checking in", fixedNow.Add(-48*time.Hour))
	recent := seedSentOutbound(t, stores, "t1", "k2", "lead@example.com", "Checking in", fixedNow.Add(-time.Hour))
	seedThread(t, stores, "t1", old.ID, "old@mail", "")
	recentThread := seedThread(t, stores, "t1", recent.ID, "recent@mail", "")

	result := matcher.Match(context.Background(), InboundEmail{FromEmail: "lead@example.com", Subject: "Re: Checking in"})
	if result.ThreadID != recentThread.ID {
		t.Fatalf("expected newest send to win, got %#v", result)
	}
}

func TestReplyMatcher_ErrorsBecomeNoMatch(t *testing.T) {
	stores, _ := newMatcherFixture(t, DefaultConfig().Matching)
	stores.threads.findErr = errors.New("db down")
	stores.outbound.listErr = errors.New("db down")
	logger := newCaptureLogger()
	matcher := NewReplyMatcher(MatchLookups{
		Threads:  stores.threads,
		Inbound:  stores.inbound,
		Outbound: stores.outbound,
	}, logger)

	result := matcher.Match(context.Background(), InboundEmail{
		InReplyTo: "<x@mail>",
		ThreadID:  "thread",
		FromEmail: "lead@example.com",
		Subject:   "Hello",
	})
	if result.IsReply || result.Method != MatchMethodNone {
		t.Fatalf("expected no match, got %#v", result)
	}
	warnings := 0
	for _, record := range logger.snapshot() {
		if record.level == "warn" {
			warnings++
		}
	}
	if warnings != 3 {
		t.Fatalf("expected one warning per failing strategy, got %d", warnings)
	}
}

func TestReplyMatcher_CustomStrategies(t *testing.T) {
	stores, _ := newMatcherFixture(t, DefaultConfig().Matching)
	thread := seedThread(t, stores, "t1", "out_a", "a@mail", "")
	custom := MatchStrategy{
		Name:       "always",
		Method:     MatchMethodThreadID,
		Confidence: ConfidenceMedium,
		Find: func(ctx context.Context, lookups MatchLookups, _ InboundEmail) (EmailThread, bool, error) {
			return lookups.Threads.GetActive(ctx, thread.ID)
		},
	}
	matcher := NewReplyMatcher(MatchLookups{Threads: stores.threads}, nil, custom)
	if result := matcher.Match(context.Background(), InboundEmail{}); result.ThreadID != thread.ID {
		t.Fatalf("expected custom strategy match, got %#v", result)
	}
}
