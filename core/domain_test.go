package core

import (
	"testing"
	"time"
)

func TestActionStatus_Terminal(t *testing.T) {
	for _, status := range []ActionStatus{ActionStatusCompleted, ActionStatusFailed, ActionStatusCanceled} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []ActionStatus{ActionStatusPending, ActionStatusProcessing} {
		if status.Terminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

func TestChannelNormalization(t *testing.T) {
	if got := normalizeChannel(""); got != ChannelEmail {
		t.Fatalf("expected blank channel to default to email, got %q", got)
	}
	if got := normalizeChannel(" SMS "); got != ChannelSMS || !got.Valid() {
		t.Fatalf("expected sms, got %q", got)
	}
	if Channel("fax").Valid() {
		t.Fatalf("expected fax to be unsupported")
	}
}

func TestNewReplyEvent_CarriesMatchDetails(t *testing.T) {
	receivedAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	event := NewReplyEvent("in_1", MatchResult{
		IsReply:           true,
		Confidence:        ConfidenceHigh,
		Method:            MatchMethodMessageID,
		ThreadID:          "thread_1",
		OutboundMessageID: "out_1",
		TenantID:          "tenant_1",
	}, receivedAt, "gmail")

	if event.OutboundMessageID != "out_1" || event.TenantID != "tenant_1" || event.InboundMessageID != "in_1" {
		t.Fatalf("unexpected reply event %#v", event)
	}
	if !event.EventAt.Equal(receivedAt) || event.EventAt.Location() != time.UTC {
		t.Fatalf("expected UTC event time, got %s", event.EventAt)
	}
	if event.Data["matchMethod"] != string(MatchMethodMessageID) || event.Data["confidence"] != string(ConfidenceHigh) {
		t.Fatalf("expected match details in data, got %#v", event.Data)
	}
	if event.Data["inboundMessageId"] != "in_1" || event.Data["source"] != "gmail" {
		t.Fatalf("expected inbound id and source in data, got %#v", event.Data)
	}
}

func TestNoMatch(t *testing.T) {
	result := NoMatch()
	if result.IsReply || result.Method != MatchMethodNone || result.Confidence != ConfidenceLow {
		t.Fatalf("unexpected no-match result %#v", result)
	}
}
