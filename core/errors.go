package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/schedule"
)

const (
	ErrorBadInput            = "OUTREACH_BAD_INPUT"
	ErrorNotFound            = "OUTREACH_NOT_FOUND"
	ErrorConflict            = "OUTREACH_CONFLICT"
	ErrorInvalidDuration     = schedule.ErrorInvalidDuration
	ErrorTimezoneUnresolved  = schedule.ErrorTimezoneUnresolved
	ErrorInvalidQuietHours   = schedule.ErrorInvalidQuietHours
	ErrorMatchLookupFailed   = "OUTREACH_MATCH_LOOKUP_FAILED"
	ErrorDuplicateDelivery   = "OUTREACH_DUPLICATE_DELIVERY"
	ErrorDispatchFailed      = "OUTREACH_DISPATCH_FAILED"
	ErrorTenantCircuitOpen   = "OUTREACH_TENANT_CIRCUIT_OPEN"
	ErrorProviderNotFound    = "OUTREACH_PROVIDER_NOT_FOUND"
	ErrorExecutorUnavailable = "OUTREACH_EXECUTOR_UNAVAILABLE"
	ErrorSubscriptionRenewal = "OUTREACH_SUBSCRIPTION_RENEWAL_FAILED"
	ErrorUnauthorized        = "OUTREACH_UNAUTHORIZED"
	ErrorRateLimited         = "OUTREACH_RATE_LIMITED"
	ErrorProviderFailure     = "OUTREACH_PROVIDER_FAILURE"
	ErrorInternal            = "OUTREACH_INTERNAL_ERROR"
)

var (
	ErrNotFound          = errors.New("core: record not found")
	ErrProviderNotFound  = errors.New("core: provider not found")
	ErrActionNotPending  = errors.New("core: action is not pending")
	ErrClaimLost         = errors.New("core: action claim lost")
	ErrInvalidTransition = errors.New("core: outbound state transition not allowed")
	ErrTenantCircuitOpen = errors.New("core: tenant circuit open")
)

// MatchLookupError reports a store failure inside one matching strategy.
func MatchLookupError(method MatchMethod, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryExternal, fmt.Sprintf("core: %s lookup failed", method)).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorMatchLookupFailed).
		WithMetadata(map[string]any{"method": string(method)})
}

// DuplicateDeliveryError reports an inbound message that was already processed.
func DuplicateDeliveryError(provider, providerMessageID string) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("core: inbound message %s/%s already processed", provider, providerMessageID),
		goerrors.CategoryConflict,
	).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorDuplicateDelivery).
		WithMetadata(map[string]any{
			"provider":            provider,
			"provider_message_id": providerMessageID,
		})
}

func DispatchFailedError(action ScheduledAction, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryExternal, fmt.Sprintf("core: action %s failed", action.ID)).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorDispatchFailed).
		WithMetadata(map[string]any{
			"action_id":     action.ID,
			"action_type":   string(action.ActionType),
			"tenant_id":     action.TenantID,
			"attempt_count": action.AttemptCount,
		})
}

func IsDuplicateDelivery(err error) bool {
	return HasTextCode(err, ErrorDuplicateDelivery)
}

func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(rich.TextCode), code)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrProviderNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorProviderNotFound)
	case errors.Is(err, ErrActionNotPending), errors.Is(err, ErrClaimLost), errors.Is(err, ErrInvalidTransition):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ErrorConflict)
	case errors.Is(err, ErrTenantCircuitOpen):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorTenantCircuitOpen)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "unsupported"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorTenantCircuitOpen
	case goerrors.CategoryExternal:
		return ErrorDispatchFailed
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badInput(format string, args ...any) error {
	return newServiceError(fmt.Sprintf(format, args...), goerrors.CategoryBadInput, ErrorBadInput)
}
