package task

import "sync/atomic"

// Token is a one-way cancellation flag shared between the session that owns
// a task and whoever wants it stopped. Once cancelled it never resets.
type Token struct {
	cancelled atomic.Bool
}

// NewToken returns a live token.
func NewToken() *Token {
	return &Token{}
}

// Cancel flips the token. It reports whether this call performed the flip.
func (t *Token) Cancel() bool {
	if t == nil {
		return false
	}
	return t.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether the token has been flipped.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load()
}
