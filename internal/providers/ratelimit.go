package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously at a fixed number of
// requests per second. The bucket holds at most one second of tokens.
type RateLimiter struct {
	mu sync.Mutex

	perSecond float64
	burst     float64

	tokens     float64
	lastUpdate time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter allowing perSecond requests per second.
func NewRateLimiter(perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := max(perSecond, 1)
	return &RateLimiter{
		perSecond:  perSecond,
		burst:      burst,
		tokens:     burst,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}
		wait := r.untilToken()
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// Record429 drains the bucket after the service pushed back.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last429Time = time.Now()
	r.tokens = 0
	if retryAfter > 0 {
		// Push the next refill out so Wait sleeps at least retryAfter.
		r.tokens = -retryAfter.Seconds() * r.perSecond
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	var until time.Duration
	if r.tokens < 1 {
		until = r.untilToken()
	}
	return RateLimiterStatus{
		TokensAvailable: max(int(r.tokens), 0),
		TokensLimit:     int(r.burst),
		TimeUntilToken:  until,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		Last429Time:     r.last429Time,
	}
}

// refill must be called with the lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastUpdate).Seconds() * r.perSecond
	r.lastUpdate = now
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
}

func (r *RateLimiter) untilToken() time.Duration {
	need := 1 - r.tokens
	return time.Duration(need / r.perSecond * float64(time.Second))
}
