package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func fastPolicy(attempts int) *Policy {
	return &Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		RetryIf:      func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return calls, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, errFatal
	})
	assert.Equal(t, errFatal, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoCanceledKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(10)
	p.InitialDelay = time.Hour
	p.MaxDelay = time.Hour

	calls := 0
	errc := make(chan error, 1)
	go func() {
		_, err := DoWithResult(ctx, p, func(context.Context) (bool, error) {
			calls++
			return false, errTransient
		})
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, errTransient)
	case <-time.After(time.Second):
		t.Fatal("DoWithResult did not return after cancel")
	}
	assert.Equal(t, 1, calls)
}

func TestNilPolicyAndZeroAttempts(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), &Policy{}, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	got, err := DoWithResult(context.Background(), nil, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
