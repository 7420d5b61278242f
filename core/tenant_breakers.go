package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/sony/gobreaker"
)

// TenantBreakers keeps one circuit breaker per tenant so a tenant whose
// provider keeps failing cannot starve the others.
type TenantBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   TenantBreakerConfig
	logger   Logger
}

func NewTenantBreakers(config TenantBreakerConfig, logger Logger) *TenantBreakers {
	defaults := DefaultTenantBreakerConfig()
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = defaults.HalfOpenRequests
	}
	if config.Interval < 0 {
		config.Interval = defaults.Interval
	}
	return &TenantBreakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
		logger:   glog.Ensure(logger),
	}
}

func (b *TenantBreakers) Config() TenantBreakerConfig {
	if b == nil {
		return DefaultTenantBreakerConfig()
	}
	return b.config
}

// Execute runs fn behind the tenant breaker. An open breaker short-circuits
// with ErrTenantCircuitOpen. Permanent errors are returned but do not count
// towards tripping the breaker.
func (b *TenantBreakers) Execute(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	breaker := b.breaker(tenantID)
	var callErr error
	_, err := breaker.Execute(func() (interface{}, error) {
		callErr = fn(ctx)
		if callErr != nil && isPermanentError(callErr) {
			return nil, nil
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrTenantCircuitOpen, tenantKey(tenantID))
	}
	return callErr
}

func (b *TenantBreakers) State(tenantID string) gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	return b.breaker(tenantID).State()
}

func (b *TenantBreakers) breaker(tenantID string) *gobreaker.CircuitBreaker {
	key := tenantKey(tenantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if breaker, ok := b.breakers[key]; ok {
		return breaker
	}
	threshold := b.config.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tenant:" + key,
		MaxRequests: b.config.HalfOpenRequests,
		Interval:    b.config.Interval,
		Timeout:     b.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logWithLevel(context.Background(), b.logger, "warn", "tenant circuit breaker state changed", map[string]any{
				"breaker":   name,
				"tenant_id": key,
				"from":      from.String(),
				"to":        to.String(),
			})
		},
	})
	b.breakers[key] = breaker
	return breaker
}

func tenantKey(tenantID string) string {
	key := strings.TrimSpace(tenantID)
	if key == "" {
		return "default"
	}
	return key
}
