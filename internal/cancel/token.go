// Package cancel provides the cancellation token shared by every suspension
// point of one exchange.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCancelled is returned by Token.Err once the token is cancelled.
// It matches context.Canceled under errors.Is.
var ErrCancelled = fmt.Errorf("exchange cancelled: %w", context.Canceled)

// Token is a one-shot cancel signal. Cancel is idempotent and safe to call
// from any goroutine, including after the exchange has finished.
type Token struct {
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	cancelled atomic.Bool
}

// New creates a token whose context is derived from parent.
func New(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{
		ctx:    ctx,
		cancel: func() { cancel(ErrCancelled) },
	}
}

// Cancel sets the flag and releases every waiter.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		t.cancel()
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Context returns a context that is done once the token is cancelled or
// its parent is done.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is shorthand for Context().Done().
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err returns ErrCancelled if the token was cancelled, nil otherwise.
func (t *Token) Err() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Release frees the context resources without marking the token cancelled.
// Call it when the exchange ends normally.
func (t *Token) Release() {
	t.once.Do(t.cancel)
}

// IsCancellation reports whether err stems from a cancelled exchange.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
