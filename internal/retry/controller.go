package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/chatstream/pkg/types"
)

var (
	// ErrRetriesExhausted is reported when a transient failure outlives the retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrInvalidTransition is returned for a call not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid backoff state transition")
)

// State is the lifecycle state of one exchange's retry controller.
type State int

const (
	Idle State = iota
	Attempting
	WaitingToRetry
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attempting:
		return "attempting"
	case WaitingToRetry:
		return "waiting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Exponential is a backoff.BackOff producing Delay(n, Base, Rand()) for
// successive calls. Unlike backoff.ExponentialBackOff its jitter is additive
// only, so a delay is never shorter than the unjittered value.
type Exponential struct {
	Base time.Duration
	Rand func() float64

	n int
}

// NextBackOff returns the delay for the next retry.
func (e *Exponential) NextBackOff() time.Duration {
	r := 0.0
	if e.Rand != nil {
		r = e.Rand()
	}
	d := Delay(e.n, e.Base, r)
	e.n++
	return d
}

// Reset restarts the sequence at retry 0.
func (e *Exponential) Reset() {
	e.n = 0
}

// Failure describes why an exchange ended without success.
type Failure struct {
	Class     Class
	Attempts  int
	Exhausted bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Exhausted {
		return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted, f.Attempts, f.Err)
	}
	return fmt.Sprintf("%s failure after %d attempts: %v", f.Class, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() []error {
	if f.Exhausted {
		return []error{ErrRetriesExhausted, f.Err}
	}
	return []error{f.Err}
}

// Controller drives the retry state machine of one exchange:
//
//	Idle -> Attempting -> Succeeded | WaitingToRetry | Failed
//	WaitingToRetry -> Attempting
//
// It is discarded when the exchange ends. A Controller is not safe for
// concurrent use.
type Controller struct {
	policy   Policy
	ctx      context.Context
	exp      *Exponential
	schedule backoff.BackOff
	state    State
	attempts int
	last     time.Duration
}

// NewController creates a controller for one exchange. ctx bounds the
// schedule: once it is done no further retry is scheduled.
func NewController(ctx context.Context, policy Policy) *Controller {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	exp := &Exponential{Base: policy.BaseDelay, Rand: policy.rand()}

	var schedule backoff.BackOff = &backoff.StopBackOff{}
	if policy.MaxRetries > 0 {
		schedule = backoff.WithMaxRetries(exp, uint64(policy.MaxRetries))
	}
	schedule = backoff.WithContext(schedule, ctx)

	return &Controller{
		policy:   policy,
		ctx:      ctx,
		exp:      exp,
		schedule: schedule,
		state:    Idle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Attempts returns the number of attempts begun so far.
func (c *Controller) Attempts() int {
	return c.attempts
}

// Retries returns the number of retries begun so far.
func (c *Controller) Retries() int {
	return max(c.attempts-1, 0)
}

// LastDelay returns the most recently scheduled delay.
func (c *Controller) LastDelay() time.Duration {
	return c.last
}

// Context returns the retry budget as seen by the current attempt.
func (c *Controller) Context() types.RetryContext {
	return types.RetryContext{
		Attempt:    c.Retries(),
		MaxRetries: c.policy.MaxRetries,
		BaseDelay:  c.policy.BaseDelay,
	}
}

// Begin starts an attempt.
func (c *Controller) Begin() error {
	if c.state != Idle && c.state != WaitingToRetry {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, c.state)
	}
	c.state = Attempting
	c.attempts++
	return nil
}

// Succeed marks the current attempt as successful.
func (c *Controller) Succeed() error {
	if c.state != Attempting {
		return fmt.Errorf("%w: succeed from %s", ErrInvalidTransition, c.state)
	}
	c.state = Succeeded
	return nil
}

// Fail records a failed attempt. It returns the delay before the next
// attempt when a retry is scheduled, or a *Failure when the exchange is over.
// A cancellation is returned unchanged.
func (c *Controller) Fail(err error) (time.Duration, error) {
	if c.state != Attempting {
		return 0, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, c.state)
	}

	class := c.policy.Classify(err)
	switch class {
	case Cancelled:
		c.state = Failed
		return 0, err
	case Permanent:
		c.state = Failed
		return 0, &Failure{Class: Permanent, Attempts: c.attempts, Err: err}
	}

	next := c.schedule.NextBackOff()
	if next == backoff.Stop {
		c.state = Failed
		if ctxErr := c.ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, &Failure{Class: Transient, Attempts: c.attempts, Exhausted: true, Err: err}
	}

	c.state = WaitingToRetry
	c.last = next
	return next, nil
}

// Wait blocks for d or until ctx is done. A cancelled wait fails the exchange.
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	if c.state != WaitingToRetry {
		return fmt.Errorf("%w: wait from %s", ErrInvalidTransition, c.state)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.state = Failed
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
