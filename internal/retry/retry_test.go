package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), "fetch", func() (int, error) {
		calls++
		return 42, nil
	}, fastPolicy(3))

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), "fetch", func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, fastPolicy(3))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("upstream down")
	calls := 0
	_, err := Do(context.Background(), "fetch orders", func() (int, error) {
		calls++
		return 0, sentinel
	}, fastPolicy(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls, "op runs exactly MaxAttempts times")
	assert.ErrorIs(t, err, sentinel, "last error is preserved in the chain")
	assert.Contains(t, err.Error(), "fetch orders failed after 3 attempts")
}

func TestDoContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, "fetch", func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	}, Policy{MaxAttempts: 5, BaseDelay: time.Minute})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation aborts the backoff wait")
}

func TestPolicyNormalization(t *testing.T) {
	t.Parallel()

	p := Policy{}.normalized()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, p.BaseDelay)

	p = Policy{MaxAttempts: 7, BaseDelay: time.Second}.normalized()
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
}
