package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

type flaky bool

func (e flaky) Error() string   { return "flaky" }
func (e flaky) Transient() bool { return bool(e) }

func TestDelay_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	bases := []time.Duration{time.Millisecond, 100 * time.Millisecond, 750 * time.Millisecond, 2 * time.Second}

	for _, b := range bases {
		for n := 0; n < 10; n++ {
			lower := b * time.Duration(1<<n)
			upper := time.Duration(float64(lower) * 1.1)
			for i := 0; i < 200; i++ {
				d := Delay(n, b, rng.Float64())
				require.GreaterOrEqual(t, d, lower, "n=%d base=%s", n, b)
				require.Less(t, d, upper, "n=%d base=%s", n, b)
			}
		}
	}
}

func TestDelay_Edges(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Delay(0, 100*time.Millisecond, 0))
	assert.Equal(t, 400*time.Millisecond, Delay(2, 100*time.Millisecond, 0))
	assert.Equal(t, 110*time.Millisecond-time.Nanosecond, Delay(0, 100*time.Millisecond, 0.99999999))
	assert.Less(t, Delay(0, time.Second, 1.0), 1100*time.Millisecond)
	assert.Equal(t, time.Second, Delay(-3, time.Second, -1))
}

func TestDelay_SaturatesForLargeAttempts(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, base<<33, Delay(33, base, 0))

	for _, n := range []int{34, 35, 40, 62, 63, 64, 100, 1 << 20} {
		for _, r := range []float64{0, 0.5, 0.999} {
			d := Delay(n, base, r)
			assert.Positive(t, d, "n=%d", n)
			assert.Equal(t, MaxBackoff, d, "n=%d", n)
		}
	}

	// Below the cap the jittered value never wraps.
	for n := 0; n < 34; n++ {
		assert.GreaterOrEqual(t, Delay(n, base, 0.999), base<<n, "n=%d", n)
	}
}

func TestExponential_Sequence(t *testing.T) {
	e := &Exponential{Base: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, e.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, e.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, e.NextBackOff())
	e.Reset()
	assert.Equal(t, 10*time.Millisecond, e.NextBackOff())
}

func TestPolicy_Classify(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"rate limited", statusErr(429), Transient},
		{"server error", statusErr(500), Transient},
		{"unavailable", statusErr(503), Permanent},
		{"bad gateway", statusErr(502), Permanent},
		{"bad request", statusErr(400), Permanent},
		{"not found", statusErr(404), Permanent},
		{"wrapped status", fmt.Errorf("attempt: %w", statusErr(429)), Transient},
		{"cancelled", context.Canceled, Cancelled},
		{"wrapped cancel", fmt.Errorf("read: %w", context.Canceled), Cancelled},
		{"deadline", context.DeadlineExceeded, Transient},
		{"unexpected eof", io.ErrUnexpectedEOF, Transient},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, Transient},
		{"temporary", flaky(true), Transient},
		{"not temporary", flaky(false), Permanent},
		{"plain", errors.New("boom"), Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.err))
		})
	}
}

func TestPolicy_CustomRetryableStatus(t *testing.T) {
	p := Policy{RetryableStatus: []int{429}}
	assert.Equal(t, Transient, p.Classify(statusErr(429)))
	assert.Equal(t, Permanent, p.Classify(statusErr(500)))
}

func TestController_SuccessFirstTry(t *testing.T) {
	c := NewController(context.Background(), DefaultPolicy())
	assert.Equal(t, Idle, c.State())

	require.NoError(t, c.Begin())
	assert.Equal(t, Attempting, c.State())
	require.NoError(t, c.Succeed())
	assert.Equal(t, Succeeded, c.State())
	assert.True(t, c.State().Terminal())
	assert.Equal(t, 1, c.Attempts())
	assert.Equal(t, 0, c.Retries())
}

func TestController_ExhaustsAfterMaxRetries(t *testing.T) {
	c := NewController(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond})

	calls := 0
	var final error
	for {
		require.NoError(t, c.Begin())
		calls++
		d, err := c.Fail(statusErr(429))
		if err != nil {
			final = err
			break
		}
		assert.Equal(t, WaitingToRetry, c.State())
		assert.GreaterOrEqual(t, d, time.Millisecond*time.Duration(1<<(calls-1)))
	}

	assert.Equal(t, 4, calls)
	assert.Equal(t, Failed, c.State())
	assert.ErrorIs(t, final, ErrRetriesExhausted)

	var f *Failure
	require.ErrorAs(t, final, &f)
	assert.True(t, f.Exhausted)
	assert.Equal(t, 4, f.Attempts)
	assert.Equal(t, Transient, f.Class)

	var sc StatusCoder
	require.ErrorAs(t, final, &sc)
	assert.Equal(t, 429, sc.StatusCode())
}

func TestController_ZeroRetries(t *testing.T) {
	c := NewController(context.Background(), Policy{MaxRetries: 0, BaseDelay: time.Millisecond})
	require.NoError(t, c.Begin())
	_, err := c.Fail(statusErr(429))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestController_PermanentFailsImmediately(t *testing.T) {
	c := NewController(context.Background(), DefaultPolicy())
	require.NoError(t, c.Begin())

	_, err := c.Fail(statusErr(401))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, Permanent, f.Class)
	assert.Equal(t, 1, f.Attempts)
	assert.Equal(t, Failed, c.State())
}

func TestController_CancelledIsReturnedAsIs(t *testing.T) {
	c := NewController(context.Background(), DefaultPolicy())
	require.NoError(t, c.Begin())

	_, err := c.Fail(context.Canceled)
	assert.Same(t, context.Canceled, err)
	assert.Equal(t, Failed, c.State())
}

func TestController_ContextDoneStopsSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(ctx, DefaultPolicy())
	require.NoError(t, c.Begin())
	cancel()

	_, err := c.Fail(statusErr(429))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestController_WaitCancelled(t *testing.T) {
	c := NewController(context.Background(), Policy{MaxRetries: 2, BaseDelay: time.Hour})
	require.NoError(t, c.Begin())
	d, err := c.Fail(statusErr(429))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err = c.Wait(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Failed, c.State())
}

func TestController_UnlistedStatusFailsImmediately(t *testing.T) {
	c := NewController(context.Background(), DefaultPolicy())
	require.NoError(t, c.Begin())

	d, err := c.Fail(statusErr(503))
	assert.Zero(t, d)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, Permanent, failure.Class)
	assert.False(t, failure.Exhausted)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, 1, c.Attempts())
}

func TestController_WaitThenRetry(t *testing.T) {
	c := NewController(context.Background(), Policy{MaxRetries: 2, BaseDelay: time.Millisecond})
	require.NoError(t, c.Begin())
	d, err := c.Fail(statusErr(500))
	require.NoError(t, err)
	require.NoError(t, c.Wait(context.Background(), d))
	require.NoError(t, c.Begin())
	require.NoError(t, c.Succeed())

	assert.Equal(t, 2, c.Attempts())
	assert.Equal(t, 1, c.Retries())
	assert.Equal(t, 1, c.Context().Attempt)
	assert.Equal(t, 2, c.Context().MaxRetries)
}

func TestController_InvalidTransitions(t *testing.T) {
	c := NewController(context.Background(), DefaultPolicy())

	assert.ErrorIs(t, c.Succeed(), ErrInvalidTransition)
	_, err := c.Fail(errors.New("x"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, c.Wait(context.Background(), 0), ErrInvalidTransition)

	require.NoError(t, c.Begin())
	assert.ErrorIs(t, c.Begin(), ErrInvalidTransition)
	require.NoError(t, c.Succeed())
	assert.ErrorIs(t, c.Begin(), ErrInvalidTransition)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "waiting", WaitingToRetry.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.Equal(t, "transient", Transient.String())
}
