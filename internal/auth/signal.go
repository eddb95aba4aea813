package auth

import (
	"context"
	"sync"
)

// Signal is the completion handshake between a sign-in redirect and the
// callers blocked on it. It replaces the original's broadcast
// "authFinished" message with an explicit, timeout-bound wait, and holds
// a single-slot guard so that at most one silent sign-in attempt is in
// flight at a time.
type Signal struct {
	mu        sync.Mutex
	waiters   []chan struct{}
	attemptUp bool
}

func NewSignal() *Signal {
	return &Signal{}
}

// Subscribe returns a channel closed by the next Announce. Subscribe
// before starting an attempt so the completion cannot be missed.
func (s *Signal) Subscribe() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch
}

// BeginAttempt reports whether the caller should start a sign-in attempt.
// It returns false when one is already in flight; the caller then just
// waits on its subscription.
func (s *Signal) BeginAttempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptUp {
		return false
	}
	s.attemptUp = true
	return true
}

// EndAttempt releases the attempt slot without waking waiters, for
// attempts that failed to start.
func (s *Signal) EndAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptUp = false
}

// Announce wakes every waiter and releases the attempt slot. Callers
// re-read the token store afterwards; the signal itself carries no
// payload.
func (s *Signal) Announce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
	s.attemptUp = false
}

// Wait blocks until ch is closed or ctx expires.
func (s *Signal) Wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
