package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"edvault.org/internal/obs"
)

type requestIDKey struct{}

// RequestID assigns an identifier to every request and echoes it in the
// X-Request-ID response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey{}, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request identifier if one was assigned.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Logging emits one structured JSON line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)
		obs.LogRequest(map[string]any{
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
			"type":        "http",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  RequestIDFromContext(r.Context()),
			"remote_ip":   clientIP(r),
		})
	})
}

// SecurityHeaders applies response hardening required for a token-bearing
// API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// CORS allows local development origins only; extend the allowlist for
// deployed domains.
func CORS(next http.Handler) http.Handler {
	allowedMethods := "GET,POST,PATCH,OPTIONS"
	allowedHeaders := "Content-Type,Authorization"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Max-Age", "600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes limits request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

type bucket struct {
	lim *rate.Limiter
	ts  time.Time
}

// rateBuckets keeps one token bucket per client IP. Idle entries are swept
// during normal access, so no background janitor goroutine is needed.
type rateBuckets struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	limit      rate.Limit
	burst      int
	ttl        time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
}

func newRateBuckets(burst, perSecond int) *rateBuckets {
	return &rateBuckets{
		buckets:    make(map[string]*bucket),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		ttl:        5 * time.Minute,
		sweepEvery: time.Minute,
		lastSweep:  time.Now(),
	}
}

func (rb *rateBuckets) get(ip string, now time.Time) *rate.Limiter {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if now.Sub(rb.lastSweep) > rb.sweepEvery {
		for k, b := range rb.buckets {
			if now.Sub(b.ts) > rb.ttl {
				delete(rb.buckets, k)
			}
		}
		rb.lastSweep = now
	}
	b, ok := rb.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rb.limit, rb.burst)}
		rb.buckets[ip] = b
	}
	b.ts = now
	return b.lim
}

// RateLimit applies a token bucket per client IP.
func RateLimit(next http.Handler, burst int, perSecond int) http.Handler {
	rb := newRateBuckets(burst, perSecond)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !rb.get(ip, time.Now()).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For support (first IP)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLocalOrigin(o string) bool {
	return strings.HasPrefix(o, "http://localhost:") || strings.HasPrefix(o, "http://127.0.0.1:")
}
