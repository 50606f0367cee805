package retry_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
	"github.com/titanx-dash/holder-api/internal/retry"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestPolicy_ExponentialWaits(t *testing.T) {
	p := retry.NewPolicy(retry.Options{Retries: 3, Delay: 100 * time.Millisecond, Backoff: true})

	first := p.NextBackOff()
	second := p.NextBackOff()
	third := p.NextBackOff()

	assert.Equal(t, 100*time.Millisecond, first)
	assert.Equal(t, 200*time.Millisecond, second)
	assert.Equal(t, 400*time.Millisecond, third)
	assert.GreaterOrEqual(t, second, 2*first)
	assert.Equal(t, backoff.Stop, p.NextBackOff())
}

func TestPolicy_LinearWaitsCapAtThree(t *testing.T) {
	p := retry.NewPolicy(retry.Options{Retries: 5, Delay: 10 * time.Millisecond})

	assert.Equal(t, 10*time.Millisecond, p.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, p.NextBackOff())
	assert.Equal(t, 30*time.Millisecond, p.NextBackOff())
	assert.Equal(t, 30*time.Millisecond, p.NextBackOff())
	assert.Equal(t, 30*time.Millisecond, p.NextBackOff())
	assert.Equal(t, backoff.Stop, p.NextBackOff())
}

func TestDo_SucceedsAfterTwoFailures(t *testing.T) {
	calls := 0
	result, err := retry.Do(context.Background(),
		retry.Options{Retries: 3, Delay: time.Millisecond, Backoff: true},
		func() (string, error) {
			calls++
			if calls <= 2 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls) // initial attempt plus exactly two retries
}

func TestDo_ExhaustsRetries(t *testing.T) {
	wantErr := errors.New("still broken")
	calls := 0
	_, err := retry.Do(context.Background(),
		retry.Options{Retries: 2, Delay: time.Millisecond},
		func() (int, error) {
			calls++
			return 0, wantErr
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestDo_RateLimitFailsFast(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(),
		retry.Options{Retries: 5, Delay: time.Millisecond},
		func() (int, error) {
			calls++
			return 0, errors.New("429 Too Many Requests")
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, calls) // no retries burned on a rate limit
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retry.Do(ctx,
		retry.Options{Retries: 5, Delay: 50 * time.Millisecond},
		func() (int, error) {
			return 0, errors.New("transient")
		})

	require.Error(t, err)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, retry.IsRateLimited(errors.New("rate limit exceeded")))
	assert.True(t, retry.IsRateLimited(errors.New("HTTP 429")))
	assert.True(t, retry.IsRateLimited(domain.ErrRateLimited))
	assert.False(t, retry.IsRateLimited(errors.New("connection refused")))
	assert.False(t, retry.IsRateLimited(nil))
}
