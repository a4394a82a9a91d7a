package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/malaphor/pkg/logging"
)

// RateLimitConfig configures the per-client token buckets.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
	ClientExpiration  time.Duration
	MaxClients        int // new clients beyond this are rejected
}

// DefaultRateLimitConfig returns 10 req/s with bursts of 20.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
		ClientExpiration:  10 * time.Minute,
		MaxClients:        10000,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter keeps one token bucket per client id.
type RateLimiter struct {
	config  RateLimitConfig
	logger  logging.Logger
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*tokenBucket
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter starts a limiter and its cleanup goroutine. Call Stop to
// release it.
func NewRateLimiter(config *RateLimitConfig, logger logging.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	rl := &RateLimiter{
		config:  *config,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}
	if rl.config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Allow takes one token from clientID's bucket.
func (rl *RateLimiter) Allow(clientID string) bool {
	b := rl.bucket(clientID)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.config.RequestsPerSecond
	b.tokens = min(b.tokens, float64(rl.config.BurstSize))
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) bucket(clientID string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.clients[clientID]; ok {
		return b
	}
	if rl.config.MaxClients > 0 && len(rl.clients) >= rl.config.MaxClients {
		rl.logger.Warn("rate limiter full", logging.Int("max_clients", rl.config.MaxClients))
		return nil
	}
	b := &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: rl.now()}
	rl.clients[clientID] = b
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops buckets idle for longer than ClientExpiration.
func (rl *RateLimiter) cleanup() int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, b := range rl.clients {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill)
		b.mu.Unlock()
		if idle > rl.config.ClientExpiration {
			delete(rl.clients, id)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup", logging.Count(removed))
	}
	return removed
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// ClientIDFunc extracts the rate limit key from a request.
type ClientIDFunc func(*http.Request) string

// RateLimit answers 429 with Retry-After once a client's bucket is empty.
// A nil limiter disables limiting.
func RateLimit(limiter *RateLimiter, clientID ClientIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientID(r)) {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(limiter.config.RequestsPerSecond, 'f', -1, 64))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
