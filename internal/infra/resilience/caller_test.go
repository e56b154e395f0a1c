package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"appforge/internal/config"
	"appforge/internal/domain"
)

func testCfg() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxRetries:       3,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 3,
		BreakerCooldown:  50 * time.Millisecond,
	}
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func transientErr() error {
	return &domain.RemoteError{Op: "compute.get_status", Status: 503, Err: errors.New("unavailable")}
}

func TestFireRetriesTransientUntilSuccess(t *testing.T) {
	c := NewCaller("compute", testCfg(), nopLogger())
	calls := 0
	err := c.Fire(context.Background(), "compute.get_status", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestFireDoesNotRetryClientErrors(t *testing.T) {
	c := NewCaller("compute", testCfg(), nopLogger())
	calls := 0
	wantErr := &domain.RemoteError{Op: "compute.create_service", Status: 422, Err: errors.New("bad name")}
	err := c.Fire(context.Background(), "compute.create_service", func(ctx context.Context) error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 422, re.Status)
}

func TestFireExhaustionKeepsOriginalError(t *testing.T) {
	c := NewCaller("compute", testCfg(), nopLogger())
	calls := 0
	err := c.Fire(context.Background(), "compute.get_status", func(ctx context.Context) error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	require.Equal(t, 4, calls) // 1 initial + 3 retries
	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	cfg := testCfg()
	cfg.MaxRetries = 0 // isolate breaker behaviour from retry
	c := NewCaller("edge", cfg, nopLogger())

	// Trip the breaker with consecutive failures.
	for i := 0; i < cfg.BreakerThreshold; i++ {
		_ = c.Fire(context.Background(), "edge.put_mapping", func(ctx context.Context) error {
			return transientErr()
		})
	}
	require.Equal(t, gobreaker.StateOpen, c.State())

	// While open, calls fail fast without invoking fn.
	invoked := false
	err := c.Fire(context.Background(), "edge.put_mapping", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	require.False(t, invoked)
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))

	// After the cool-down a single trial call closes it again.
	time.Sleep(cfg.BreakerCooldown + 10*time.Millisecond)
	err = c.Fire(context.Background(), "edge.put_mapping", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateClosed, c.State())
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", &domain.RemoteError{Status: 500, Err: errors.New("boom")}, true},
		{"503", &domain.RemoteError{Status: 503, Err: errors.New("boom")}, true},
		{"404", &domain.RemoteError{Status: 404, Err: errors.New("missing")}, false},
		{"400", &domain.RemoteError{Status: 400, Err: errors.New("bad")}, false},
		{"plain", errors.New("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, domain.IsTransient(tc.err))
		})
	}
}
