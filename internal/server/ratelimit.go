package server

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// UserHourlyMax bounds requests per authenticated user per hour.
	UserHourlyMax    = 100
	userHourlyWindow = time.Hour

	defaultSweepInterval = time.Minute
)

// rateLimitRecord is one fixed window: a request count and when it resets.
type rateLimitRecord struct {
	count     int
	resetTime time.Time
}

// RateLimiter bounds request volume per network origin and, once identity
// is known, per user. It is explicitly owned: construct it, Start the
// background sweep, Stop it on shutdown.
type RateLimiter struct {
	mu      sync.Mutex
	origins map[string]*rateLimitRecord
	users   map[string]*rateLimitRecord

	originMax    int
	originWindow time.Duration

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	logger        *zap.Logger
}

func NewRateLimiter(originMax int, originWindow time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		origins:       make(map[string]*rateLimitRecord),
		users:         make(map[string]*rateLimitRecord),
		originMax:     originMax,
		originWindow:  originWindow,
		sweepInterval: defaultSweepInterval,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// Start launches the periodic sweep that evicts expired records so the maps
// stay bounded.
func (r *RateLimiter) Start() {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now())
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *RateLimiter) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, record := range r.origins {
		if now.After(record.resetTime) {
			delete(r.origins, key)
		}
	}
	for key, record := range r.users {
		if now.After(record.resetTime) {
			delete(r.users, key)
		}
	}
}

// check increments the record for key, opening a fresh window if the
// previous one expired, and reports whether the request fits under max.
func (r *RateLimiter) check(store map[string]*rateLimitRecord, key string, max int, window time.Duration) (allowed bool, remaining int, resetTime time.Time) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := store[key]
	if !ok || now.After(record.resetTime) {
		record = &rateLimitRecord{resetTime: now.Add(window)}
		store[key] = record
	}
	record.count++

	remaining = max - record.count
	if remaining < 0 {
		remaining = 0
	}
	return record.count <= max, remaining, record.resetTime
}

// OriginMiddleware enforces the per-origin window. It sits in front of
// identity resolution so unauthenticated traffic is throttled too. Quota
// headers are set on every response; throttled requests get Retry-After.
func (r *RateLimiter) OriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := originKey(req)

		allowed, remaining, resetTime := r.check(r.origins, origin, r.originMax, r.originWindow)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", r.originMax))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))

		if !allowed {
			r.logger.Warn("Origin rate limit exceeded", zap.String("origin", origin))
			setRetryAfter(w, resetTime)
			writeError(w, http.StatusTooManyRequests, "Too many requests - Please try again later")
			return
		}

		next.ServeHTTP(w, req)
	})
}

// UserMiddleware enforces the hourly per-user cap. It runs after the
// identity middleware; a request with no resolved user passes through.
func (r *RateLimiter) UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if userID := UserIDFromContext(req.Context()); userID != "" {
			allowed, remaining, resetTime := r.check(r.users, userID, UserHourlyMax, userHourlyWindow)
			w.Header().Set("X-RateLimit-User-Remaining", fmt.Sprintf("%d", remaining))

			if !allowed {
				r.logger.Warn("User hourly rate limit exceeded", zap.String("user_id", userID))
				setRetryAfter(w, resetTime)
				writeError(w, http.StatusTooManyRequests, "Hourly request limit exceeded - Please try again later")
				return
			}
		}

		next.ServeHTTP(w, req)
	})
}

func setRetryAfter(w http.ResponseWriter, resetTime time.Time) {
	retryAfter := int(math.Ceil(time.Until(resetTime).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
}

// originKey derives the client origin: the first X-Forwarded-For entry,
// trimmed, or the remote address host.
func originKey(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return "anonymous"
}
