package ratelimit

import (
	"context"
	"time"
)

// Window is the per-key state of a fixed-window counter.
type Window struct {
	Count int       `json:"count"`
	Start time.Time `json:"start"`
}

// Limiter counts requests per key over a fixed window. It allows at most
// limit calls per window; the window restarts once it has fully elapsed.
type Limiter struct {
	store  Store[Window]
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter builds a limiter over the given store.
func NewLimiter(store Store[Window], limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records one call for key and reports whether it is within the
// limit. When rejected, retryAfter is the time until the window resets.
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error) {
	now := l.now()
	w, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if !ok || now.Sub(w.Start) >= l.window {
		err := l.store.Set(ctx, key, Window{Count: 1, Start: now}, l.window)
		return true, 0, err
	}
	if w.Count >= l.limit {
		return false, w.Start.Add(l.window).Sub(now), nil
	}
	w.Count++
	remaining := l.window - now.Sub(w.Start)
	if err := l.store.Set(ctx, key, w, remaining); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}
