package pipeline

import (
	"sync"
	"time"
)

const (
	DefaultReconnectMaxAttempts = 3
	DefaultReconnectWindow      = 60 * time.Second
)

// ReconnectPolicy allows at most maxAttempts reconnects per window; the
// counter starts over once a full window has passed since the last attempt
type ReconnectPolicy struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	attempts    int
	last        time.Time
	now         func() time.Time
}

func NewReconnectPolicy(maxAttempts int, window time.Duration) *ReconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultReconnectMaxAttempts
	}
	if window <= 0 {
		window = DefaultReconnectWindow
	}
	return &ReconnectPolicy{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// Allow reports whether another attempt may be made now and counts it if so
func (r *ReconnectPolicy) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) >= r.window {
		r.attempts = 0
	}
	if r.attempts >= r.maxAttempts {
		return false
	}
	r.attempts++
	r.last = now
	return true
}

// Reset clears the counter after a successful reconnect
func (r *ReconnectPolicy) Reset() {
	r.mu.Lock()
	r.attempts = 0
	r.last = time.Time{}
	r.mu.Unlock()
}

func (r *ReconnectPolicy) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
