package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hintedErr struct{ d time.Duration }

func (e hintedErr) Error() string             { return "slow down" }
func (e hintedErr) RetryDelay() time.Duration { return e.d }

var errFlaky = errors.New("flaky")

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := New(WithMaxAttempts(5), WithInitialDelay(0)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsWhenRetryIfRejects(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	r := New(WithMaxAttempts(5), WithInitialDelay(0), WithRetryIf(func(err error) bool { return !errors.Is(err, boom) }))

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorAfterLastAttempt(t *testing.T) {
	calls := 0
	err := New(WithMaxAttempts(2), WithInitialDelay(0)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryCancellation(t *testing.T) {
	calls := 0
	err := New(WithMaxAttempts(5), WithInitialDelay(0)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledWaitReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(WithMaxAttempts(5), WithInitialDelay(time.Minute), WithOnRetry(func(int, error, time.Duration) { cancel() }))

	err := r.Do(ctx, func(ctx context.Context) error { return errFlaky })
	assert.Equal(t, errFlaky, err)
}

func TestDo_HonoursDelayHint(t *testing.T) {
	var delays []time.Duration
	calls := 0
	r := New(
		WithMaxAttempts(2),
		WithInitialDelay(0),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }),
	)

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return hintedErr{d: 20 * time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 20*time.Millisecond, delays[0])
}

func TestDelay_IsCappedAndGrows(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(40*time.Millisecond), WithJitter(0))

	assert.Equal(t, 10*time.Millisecond, r.Delay(0))
	assert.Equal(t, 10*time.Millisecond, r.Delay(1))
	assert.Equal(t, 20*time.Millisecond, r.Delay(2))
	assert.Equal(t, 40*time.Millisecond, r.Delay(3))
	assert.Equal(t, 40*time.Millisecond, r.Delay(10))
}

func TestDelay_JitterStaysInBand(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.5))
	for i := 0; i < 50; i++ {
		d := r.Delay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
