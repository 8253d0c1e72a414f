package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

// fixedWindow increments the counter and starts its window on first use.
var fixedWindow = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimiter is a fixed-window limiter keyed by keyFn, falling back to the
// client IP. failOpen decides whether requests pass while Redis is down.
type RateLimiter struct {
	redis    redis.Scripter
	limit    int64
	window   time.Duration
	prefix   string
	keyFn    func(r *http.Request) string
	failOpen bool
}

func NewRateLimiter(client redis.Scripter, limit int64, window time.Duration, prefix string, keyFn func(r *http.Request) string, failOpen bool) *RateLimiter {
	if keyFn == nil {
		keyFn = func(*http.Request) string { return "" }
	}
	return &RateLimiter{
		redis:    client,
		limit:    limit,
		window:   window,
		prefix:   prefix,
		keyFn:    keyFn,
		failOpen: failOpen,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil || rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		keySuffix := rl.keyFn(r)
		if keySuffix == "" {
			keySuffix = "ip:" + GetClientIP(r)
		}
		key := rl.prefix + keySuffix

		count, err := fixedWindow.Run(r.Context(), rl.redis, []string{key}, int64(rl.window.Seconds())).Int64()
		if err != nil {
			logging.Error("Rate limit Redis error", map[string]interface{}{
				"error": err.Error(),
				"key":   key,
			})
			if rl.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "Rate limiting temporarily unavailable")
			return
		}

		if count > rl.limit {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// SearchKeyPrefix namespaces search rate-limit counters in Redis.
func SearchKeyPrefix(window time.Duration) string {
	return fmt.Sprintf("ratelimit:search:%ds:", int(window.Seconds()))
}
