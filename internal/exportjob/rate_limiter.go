package exportjob

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter keyed by requester.
type RateLimiter struct {
	mu           sync.Mutex
	perRequester map[string]*window
	limit        int
	span         time.Duration
	now          func() time.Time
}

type window struct {
	count int
	start time.Time
}

func NewRateLimiter(limit int, span time.Duration) *RateLimiter {
	if limit <= 0 {
		return &RateLimiter{limit: 0}
	}
	return &RateLimiter{
		perRequester: map[string]*window{},
		limit:        limit,
		span:         span,
		now:          time.Now,
	}
}

// Allow counts one request for requester; when the window is spent it
// returns false and the time until the window resets.
func (r *RateLimiter) Allow(requester string) (bool, time.Duration) {
	if r == nil || r.limit == 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	w, ok := r.perRequester[requester]
	if !ok || now.Sub(w.start) >= r.span {
		w = &window{start: now}
		r.perRequester[requester] = w
	}
	if w.count >= r.limit {
		return false, w.start.Add(r.span).Sub(now)
	}
	w.count++
	return true, 0
}
