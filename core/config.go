package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/schedule"
)

const MaxSubjectScanLimit = 50

type ScheduleConfig struct {
	// StrictValidation rejects invalid delays and zones when an action is scheduled.
	StrictValidation bool `koanf:"strict_validation" mapstructure:"strict_validation"`
	UTCFallback      bool `koanf:"utc_fallback" mapstructure:"utc_fallback"`
}

type MatchingConfig struct {
	SubjectScanLimit       int  `koanf:"subject_scan_limit" mapstructure:"subject_scan_limit"`
	DisableSubjectFallback bool `koanf:"disable_subject_fallback" mapstructure:"disable_subject_fallback"`
}

type Config struct {
	ServiceName     string         `koanf:"service_name" mapstructure:"service_name"`
	DefaultTimezone string         `koanf:"default_timezone" mapstructure:"default_timezone"`
	Schedule        ScheduleConfig `koanf:"schedule" mapstructure:"schedule"`
	Matching        MatchingConfig `koanf:"matching" mapstructure:"matching"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:     "outreach",
		DefaultTimezone: schedule.DefaultTimezone,
		Schedule: ScheduleConfig{
			StrictValidation: true,
		},
		Matching: MatchingConfig{
			SubjectScanLimit: MaxSubjectScanLimit,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.DefaultTimezone) == "" {
		return fmt.Errorf("core: default_timezone is required")
	}
	if _, err := schedule.DefaultZoneDB().LocalParts(time.Unix(0, 0), c.DefaultTimezone); err != nil {
		return fmt.Errorf("core: default_timezone is invalid: %w", err)
	}
	if c.Matching.SubjectScanLimit < 0 || c.Matching.SubjectScanLimit > MaxSubjectScanLimit {
		return fmt.Errorf("core: matching.subject_scan_limit must be between 0 and %d", MaxSubjectScanLimit)
	}
	return nil
}

type ActionDispatcherConfig struct {
	BatchSize      int
	Workers        int
	MaxAttempts    int
	CallTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ClaimLease is how long a processing claim may live before it is released.
	ClaimLease time.Duration
	Breaker    TenantBreakerConfig
}

func DefaultActionDispatcherConfig() ActionDispatcherConfig {
	return ActionDispatcherConfig{
		BatchSize:      50,
		Workers:        8,
		MaxAttempts:    5,
		CallTimeout:    30 * time.Second,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     30 * time.Minute,
		ClaimLease:     10 * time.Minute,
		Breaker:        DefaultTenantBreakerConfig(),
	}
}

type TenantBreakerConfig struct {
	// ConsecutiveFailures trips a tenant breaker.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
	Interval            time.Duration
}

func DefaultTenantBreakerConfig() TenantBreakerConfig {
	return TenantBreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         time.Minute,
		HalfOpenRequests:    1,
		Interval:            5 * time.Minute,
	}
}

type SubscriptionRenewerConfig struct {
	LeadTime       time.Duration
	BatchSize      int
	Workers        int
	MaxAttempts    int
	CallTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ErroredRetryInterval is how long an errored subscription rests after
	// its last attempt before the renewer tries it again.
	ErroredRetryInterval time.Duration
}

func DefaultSubscriptionRenewerConfig() SubscriptionRenewerConfig {
	return SubscriptionRenewerConfig{
		LeadTime:             24 * time.Hour,
		BatchSize:            100,
		Workers:              4,
		MaxAttempts:          3,
		CallTimeout:          20 * time.Second,
		InitialBackoff:       time.Second,
		MaxBackoff:           30 * time.Second,
		ErroredRetryInterval: 15 * time.Minute,
	}
}
