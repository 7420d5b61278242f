package transport

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outreach/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// StatusError maps a non-2xx provider response onto an envelope whose
// category drives retry decisions: auth and 4xx failures are permanent,
// 429 and 5xx are retried.
func StatusError(res Response, operation string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	category := goerrors.CategoryExternal
	code := http.StatusBadGateway
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		category, code = goerrors.CategoryAuth, http.StatusUnauthorized
	case res.StatusCode == http.StatusForbidden:
		category, code = goerrors.CategoryAuthz, http.StatusForbidden
	case res.StatusCode == http.StatusNotFound:
		category, code = goerrors.CategoryNotFound, http.StatusNotFound
	case res.StatusCode == http.StatusTooManyRequests:
		category, code = goerrors.CategoryRateLimit, http.StatusTooManyRequests
	case res.StatusCode >= 400 && res.StatusCode < 500:
		category, code = goerrors.CategoryBadInput, http.StatusBadRequest
	}
	return transportError(
		fmt.Sprintf("transport: %s returned status %d", operation, res.StatusCode),
		category,
		code,
		map[string]any{
			"operation":   operation,
			"status_code": res.StatusCode,
			"body":        truncate(string(res.Body), 512),
		},
	)
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return core.ErrorUnauthorized
	case goerrors.CategoryNotFound:
		return core.ErrorNotFound
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	case goerrors.CategoryExternal:
		return core.ErrorProviderFailure
	default:
		return core.ErrorInternal
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
