// Package ratelimit caps chat requests per client in fixed time windows.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Counter records one hit for key in the window starting at windowStart and
// returns the window's total.
type Counter interface {
	Increment(ctx context.Context, key string, windowStart, expiresAt time.Time) (int, error)
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type Limiter struct {
	counter Counter
	window  time.Duration
	max     int
	now     func() time.Time
}

func New(counter Counter, window time.Duration, max int) (*Limiter, error) {
	if counter == nil {
		return nil, errors.New("ratelimit: counter must not be nil")
	}
	if window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	if max <= 0 {
		return nil, errors.New("ratelimit: max requests must be positive")
	}
	return &Limiter{counter: counter, window: window, max: max, now: time.Now}, nil
}

// Allow counts a request for key. On a counter error the returned decision
// allows the request; the caller decides whether to honour it.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	start := l.now().UTC().Truncate(l.window)
	reset := start.Add(l.window)

	hits, err := l.counter.Increment(ctx, key, start, reset)
	if err != nil {
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max, Reset: reset}, err
	}

	remaining := l.max - hits
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   hits <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// Key derives the client key from the fingerprint id, falling back to the
// source address.
func Key(fingerprintID, sourceIP string) string {
	if id := strings.TrimSpace(fingerprintID); id != "" {
		return "fp:" + id
	}
	if ip := strings.TrimSpace(sourceIP); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
