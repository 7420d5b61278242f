package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		category goerrors.Category
		textCode string
		status   int
	}{
		{fmt.Errorf("%w: thread t1", ErrNotFound), goerrors.CategoryNotFound, ErrorNotFound, 404},
		{fmt.Errorf("%w: act_1", ErrActionNotPending), goerrors.CategoryConflict, ErrorConflict, 409},
		{fmt.Errorf("%w: tenant_1", ErrTenantCircuitOpen), goerrors.CategoryRateLimit, ErrorTenantCircuitOpen, 429},
		{stderrors.New("core: tenant id is required"), goerrors.CategoryBadInput, ErrorBadInput, 400},
	}
	for _, tc := range cases {
		mapped := serviceErrorMapper(tc.err)
		if mapped.Category != tc.category || mapped.TextCode != tc.textCode || mapped.Code != tc.status {
			t.Fatalf("unexpected mapping for %v: %#v", tc.err, mapped)
		}
	}
}

func TestServiceErrorMapper_KeepsRichErrors(t *testing.T) {
	original := DuplicateDeliveryError("gmail", "gm_1")
	mapped := serviceErrorMapper(fmt.Errorf("wrapped: %w", original))
	if mapped.TextCode != ErrorDuplicateDelivery || mapped.Code != 409 {
		t.Fatalf("expected duplicate delivery envelope to survive, got %#v", mapped)
	}
	if !IsDuplicateDelivery(mapped) {
		t.Fatalf("expected duplicate delivery helper to match")
	}
}

func TestDispatchFailedError_Metadata(t *testing.T) {
	err := DispatchFailedError(ScheduledAction{
		ID:           "act_1",
		TenantID:     "tenant_1",
		ActionType:   ActionSendEmail,
		AttemptCount: 3,
	}, stderrors.New("smtp 554"))
	if err.TextCode != ErrorDispatchFailed || err.Metadata["attempt_count"] != 3 {
		t.Fatalf("unexpected dispatch error %#v", err)
	}
	if !isPermanentError(executorUnavailableError(ActionSendEmail)) {
		t.Fatalf("expected executor unavailable to be permanent")
	}
	if isPermanentError(err) {
		t.Fatalf("expected external dispatch failure to be retryable")
	}
}

func TestServiceMethods_MapErrorsToStableServiceCodes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryStores())

	_, _, err := svc.QueueOutbound(ctx, QueueOutboundRequest{TenantID: "tenant_1"})
	if !HasTextCode(err, ErrorBadInput) {
		t.Fatalf("expected bad input text code, got %v", err)
	}

	_, err = svc.GetThread(ctx, "thread_missing")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorNotFound || richErr.Code != 404 {
		t.Fatalf("expected not found envelope, got %#v", richErr)
	}

	bare, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = bare.ProcessInbound(ctx, InboundEmail{Provider: "gmail", ProviderMessageID: "gm_1"})
	if !goerrors.As(err, &richErr) || richErr.Code == 0 {
		t.Fatalf("expected missing store to be reported as a service error, got %v", err)
	}
}
