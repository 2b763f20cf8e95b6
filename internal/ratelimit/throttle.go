package ratelimit

import (
	"context"
	"time"
)

// Attempts tracks failed login attempts for one subject.
type Attempts struct {
	Count int       `json:"count"`
	First time.Time `json:"first"`
}

// LoginThrottle locks a subject out after too many failed attempts inside
// the window. The lockout ends when the entry expires; a successful login
// clears it early via Reset.
type LoginThrottle struct {
	store  Store[Attempts]
	max    int
	window time.Duration
	now    func() time.Time
}

// NewLoginThrottle allows up to max failures per window for each key.
func NewLoginThrottle(store Store[Attempts], max int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{
		store:  store,
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Blocked reports whether key is currently locked out and, if so, how long
// until the lockout expires.
func (t *LoginThrottle) Blocked(ctx context.Context, key string) (bool, time.Duration, error) {
	a, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if !ok || a.Count < t.max {
		return false, 0, nil
	}
	return true, a.First.Add(t.window).Sub(t.now()), nil
}

// RecordFailure counts one failed attempt against key.
func (t *LoginThrottle) RecordFailure(ctx context.Context, key string) error {
	now := t.now()
	a, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return t.store.Set(ctx, key, Attempts{Count: 1, First: now}, t.window)
	}
	a.Count++
	remaining := a.First.Add(t.window).Sub(now)
	if remaining <= 0 {
		return t.store.Set(ctx, key, Attempts{Count: 1, First: now}, t.window)
	}
	return t.store.Set(ctx, key, a, remaining)
}

// Reset clears the attempt record, typically after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, key string) error {
	_, err := t.store.Delete(ctx, key)
	return err
}
