package schedule

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultTimezone = "UTC"

// Spec describes when a sequence step fires relative to a base time.
type Spec struct {
	Delay      string      `json:"delay" mapstructure:"delay"`
	Timezone   string      `json:"timezone,omitempty" mapstructure:"timezone"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty" mapstructure:"quiet_hours"`
}

// Resolution records how a send time was derived.
type Resolution struct {
	Base          time.Time
	Candidate     time.Time
	At            time.Time
	QuietAdjusted bool
	UTCFallback   bool
	// Err is set when resolution degraded to a fallback.
	Err error
}

type Resolver struct {
	zones           ZoneDB
	adjuster        *Adjuster
	logger          glog.Logger
	defaultTimezone string
	utcFallback     bool
}

type ResolverOption func(*Resolver)

func WithZoneDB(zones ZoneDB) ResolverOption {
	return func(r *Resolver) {
		if zones != nil {
			r.zones = zones
		}
	}
}

func WithLogger(logger glog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithDefaultTimezone(zone string) ResolverOption {
	return func(r *Resolver) {
		if strings.TrimSpace(zone) != "" {
			r.defaultTimezone = strings.TrimSpace(zone)
		}
	}
}

// WithUTCFallback applies quiet hours in UTC when the contact zone cannot be
// resolved, instead of leaving the base time untouched.
func WithUTCFallback(enabled bool) ResolverOption {
	return func(r *Resolver) {
		r.utcFallback = enabled
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		zones:           DefaultZoneDB(),
		defaultTimezone: DefaultTimezone,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = glog.Ensure(r.logger)
	r.adjuster = NewAdjuster(r.zones)
	return r
}

// Resolve returns the send time for spec. It never fails: an unparseable delay
// or unresolvable zone yields baseTime.
func (r *Resolver) Resolve(ctx context.Context, spec Spec, baseTime time.Time) time.Time {
	return r.Explain(ctx, spec, baseTime).At
}

func (r *Resolver) Explain(ctx context.Context, spec Spec, baseTime time.Time) Resolution {
	out := Resolution{Base: baseTime, Candidate: baseTime, At: baseTime}

	delay, err := ParseDurationValue(spec.Delay)
	if err != nil {
		r.warn(ctx, "schedule delay could not be parsed, using base time", err, spec)
		out.Err = err
		return out
	}
	candidate := baseTime.Add(delay)
	out.Candidate = candidate
	out.At = candidate
	if spec.QuietHours == nil {
		return out
	}

	zone := r.zoneFor(spec)
	adjusted, err := r.adjuster.Adjust(candidate, zone, *spec.QuietHours)
	if err != nil && IsTimezoneUnresolved(err) && r.utcFallback {
		r.warn(ctx, "schedule timezone unresolved, applying quiet hours in UTC", err, spec)
		out.UTCFallback = true
		out.Err = err
		adjusted, err = r.adjuster.Adjust(candidate, DefaultTimezone, *spec.QuietHours)
	}
	if err != nil {
		r.warn(ctx, "schedule quiet hours could not be applied, using base time", err, spec)
		out.Err = err
		out.At = baseTime
		return out
	}
	out.At = adjusted
	out.QuietAdjusted = !adjusted.Equal(candidate)
	return out
}

// ValidateSpec rejects specs that Resolve would silently fall back on.
func (r *Resolver) ValidateSpec(spec Spec) error {
	fields := []goerrors.FieldError{}
	if strings.TrimSpace(spec.Delay) == "" {
		fields = append(fields, goerrors.FieldError{Field: "delay", Message: "delay is required"})
	} else if _, err := ParseDuration(spec.Delay); err != nil {
		fields = append(fields, goerrors.FieldError{Field: "delay", Message: err.Error()})
	}
	if zone := strings.TrimSpace(spec.Timezone); zone != "" && !isUTCZone(zone) {
		if _, err := r.zones.LocalParts(time.Unix(0, 0), zone); err != nil {
			fields = append(fields, goerrors.FieldError{Field: "timezone", Message: err.Error()})
		}
	}
	if spec.QuietHours != nil {
		if err := spec.QuietHours.Validate(); err != nil {
			fields = append(fields, goerrors.FieldError{Field: "quiet_hours", Message: err.Error()})
		}
	}
	if len(fields) == 0 {
		return nil
	}

	textCode := ErrorInvalidDuration
	switch fields[0].Field {
	case "timezone":
		textCode = ErrorTimezoneUnresolved
	case "quiet_hours":
		textCode = ErrorInvalidQuietHours
	}
	return goerrors.NewValidation("schedule: invalid schedule spec", fields...).
		WithTextCode(textCode).
		WithMetadata(map[string]any{
			"delay":    spec.Delay,
			"timezone": spec.Timezone,
		})
}

func (r *Resolver) zoneFor(spec Spec) string {
	if zone := strings.TrimSpace(spec.Timezone); zone != "" {
		return zone
	}
	return r.defaultTimezone
}

func (r *Resolver) warn(ctx context.Context, message string, err error, spec Spec) {
	logger := r.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Warn(message,
		"delay", spec.Delay,
		"timezone", spec.Timezone,
		"error", err,
	)
}
