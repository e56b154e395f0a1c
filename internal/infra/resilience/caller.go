package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/infra/metrics"
)

// Caller guards remote calls against a persistently failing platform with a
// circuit breaker, and retries transient failures with bounded exponential
// backoff. One Caller is shared per external platform, constructed once at
// bootstrap and injected into whoever talks to that platform.
type Caller struct {
	name       string
	cb         *gobreaker.CircuitBreaker
	maxRetries uint64
	baseDelay  time.Duration
	log        *zerolog.Logger
}

func NewCaller(name string, cfg config.ResilienceConfig, log *zerolog.Logger) *Caller {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one trial call in half-open
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("platform", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.SetBreakerState(name, stateValue(to))
		},
	}
	return &Caller{
		name:       name,
		cb:         gobreaker.NewCircuitBreaker(settings),
		maxRetries: uint64(cfg.MaxRetries),
		baseDelay:  cfg.BaseDelay,
		log:        log,
	}
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Fire runs fn through the breaker with up to maxRetries retries at
// baseDelay × 2^attempt. Only transient errors (timeouts, 5xx, resets) are
// retried; an open breaker fails fast instead of queueing more attempts.
// When retries exhaust, the original error is propagated with the attempt
// count attached.
func (c *Caller) Fire(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	err := backoff.Retry(func() error {
		attempts++
		_, err := c.cb.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		c.log.Debug().Str("op", op).Int("attempt", attempts).Err(err).Msg("transient failure, will retry")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))

	if err != nil {
		return fmt.Errorf("%s: %d attempt(s): %w", op, attempts, err)
	}
	return nil
}

// State exposes the breaker state for health reporting.
func (c *Caller) State() gobreaker.State { return c.cb.State() }
