// Package resilience wraps calls to external providers with a timeout,
// retries and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
)

// Guard protects one external service.
type Guard struct {
	Service string
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker *Breaker
}

// GuardConfig holds the tunables read from configuration.
type GuardConfig struct {
	Timeout          time.Duration
	MaxAttempts      int
	FailureThreshold int
	Cooldown         time.Duration
}

// NewGuard builds a Guard for service with its own breaker.
func NewGuard(service string, cfg GuardConfig) *Guard {
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Guard{
		Service: service,
		Timeout: timeout,
		Retry:   policy,
		Breaker: NewBreaker(service, cfg.FailureThreshold, cooldown),
	}
}

// Call runs fn under g. The call keeps running if the caller's context is
// cancelled so a completed upstream request can still be persisted; only
// g.Timeout bounds it. Any failure is reported as
// model.ErrUpstreamUnavailable with the cause attached.
func Call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.Breaker != nil {
		if err := g.Breaker.Allow(); err != nil {
			metrics.RecordUpstream(g.Service, err)
			return zero, upstreamError(g.Service, err)
		}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.Timeout)
	defer cancel()

	v, err := Retry(callCtx, g.Retry, g.Service, fn)
	if g.Breaker != nil {
		g.Breaker.Record(err)
	}
	metrics.RecordUpstream(g.Service, err)
	if err != nil {
		return zero, upstreamError(g.Service, err)
	}
	return v, nil
}

func upstreamError(service string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return eris.Wrapf(model.ErrUpstreamUnavailable, "%s: timed out", service)
	}
	return eris.Wrapf(model.ErrUpstreamUnavailable, "%s: %v", service, cause)
}
