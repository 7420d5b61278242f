package schedule

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidDuration    = "OUTREACH_INVALID_DURATION"
	ErrorTimezoneUnresolved = "OUTREACH_TIMEZONE_UNRESOLVED"
	ErrorInvalidQuietHours  = "OUTREACH_INVALID_QUIET_HOURS"
)

func invalidDurationError(input string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("schedule: invalid ISO-8601 duration %q", input), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorInvalidDuration).
		WithMetadata(map[string]any{"delay": input})
}

func timezoneError(zone string, cause error) *goerrors.Error {
	message := fmt.Sprintf("schedule: timezone %q could not be resolved", zone)
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryBadInput, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryBadInput)
	}
	return err.
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorTimezoneUnresolved).
		WithMetadata(map[string]any{"timezone": zone})
}

func quietHoursError(field, value string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("schedule: quiet hours %s %q must be HH:MM", field, value), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorInvalidQuietHours).
		WithMetadata(map[string]any{"field": field, "value": value})
}

// IsInvalidDuration reports whether err carries the invalid duration text code.
func IsInvalidDuration(err error) bool {
	return hasTextCode(err, ErrorInvalidDuration)
}

// IsTimezoneUnresolved reports whether err carries the unresolved timezone text code.
func IsTimezoneUnresolved(err error) bool {
	return hasTextCode(err, ErrorTimezoneUnresolved)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(rich.TextCode), code)
}
