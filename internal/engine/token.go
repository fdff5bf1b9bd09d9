package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the cause carried by a tripped CancelToken. Runners return
// it, wrapped, when they stop at a checkpoint.
var ErrCancelled = errors.New("job cancelled")

// CancelToken is a cooperative cancellation signal threaded through a job
// run. Runners poll it at checkpoints; its context is cancelled as well so
// context-aware I/O returns early.
type CancelToken struct {
	cancelled atomic.Bool

	mu     sync.Mutex
	reason string

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewCancelToken creates a token whose context derives from parent.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancelCause(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel trips the token. Only the first call records its reason; it
// reports whether this call tripped the token.
func (t *CancelToken) Cancel(reason string) bool {
	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		return false
	}
	t.reason = reason
	t.cancelled.Store(true)
	t.mu.Unlock()

	t.cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	return true
}

// Cancelled reports whether the token was tripped.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Reason returns the reason given to the first Cancel call.
func (t *CancelToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Err returns nil until the token is tripped, then an error wrapping
// ErrCancelled with the reason.
func (t *CancelToken) Err() error {
	if !t.cancelled.Load() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCancelled, t.Reason())
}

// Context returns a context cancelled when the token trips.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Done is closed when the token trips.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// release frees the context's resources without recording a cancellation.
func (t *CancelToken) release() {
	t.cancel(context.Canceled)
}
