package gateway

import "time"

// requestLimiter caps the request frames one connection may send within a
// sliding window. It is owned by a single readLoop and is not safe for
// concurrent use; exceeding it ends the connection with a rate_limited close.
type requestLimiter struct {
	// Ring of admitted request times, oldest at head.
	seen   []time.Time
	head   int
	count  int
	window time.Duration
}

// newRequestLimiter falls back to the gateway defaults for non-positive inputs.
func newRequestLimiter(limit int, window time.Duration) *requestLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &requestLimiter{seen: make([]time.Time, limit), window: window}
}

// allow admits a request received at now if fewer than limit requests were
// admitted in the preceding window.
func (l *requestLimiter) allow(now time.Time) bool {
	l.expire(now)
	if l.count == len(l.seen) {
		return false
	}
	l.seen[(l.head+l.count)%len(l.seen)] = now
	l.count++
	return true
}

// retryAfter is how long until the oldest admitted request leaves the window.
func (l *requestLimiter) retryAfter(now time.Time) time.Duration {
	l.expire(now)
	if l.count < len(l.seen) {
		return 0
	}
	return l.seen[l.head].Add(l.window).Sub(now)
}

func (l *requestLimiter) expire(now time.Time) {
	cut := now.Add(-l.window)
	for l.count > 0 && !l.seen[l.head].After(cut) {
		l.head = (l.head + 1) % len(l.seen)
		l.count--
	}
}
