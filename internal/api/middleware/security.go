package middleware

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/security"
)

const (
	SessionHeader = "X-Session-ID"
	CSRFHeader    = "X-CSRF-Token"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
	ResetTime  int64    `json:"resetTime,omitempty"`
}

// RespondError writes a JSON error response
func RespondError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type contextKey string

const (
	SessionContextKey contextKey = "session"
)

// SecurityHeaders sets the response headers applied to every API reply.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Session resolves the X-Session-ID header into a well-formed session id,
// minting a new one when it is missing or malformed. The id is echoed in
// the response header.
func Session(sessions *security.SessionIDs) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, _ := sessions.Resolve(r.Header.Get(SessionHeader))
			w.Header().Set(SessionHeader, sid)
			ctx := context.WithValue(r.Context(), SessionContextKey, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID returns the session id stored by Session.
func GetSessionID(ctx context.Context) string {
	sid, _ := ctx.Value(SessionContextKey).(string)
	return sid
}

// ClientIP is the host part of the remote address, or "unknown".
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// RateLimiter checks fixed-window limits and writes the X-RateLimit-*
// headers.
type RateLimiter struct {
	limiter security.Limiter
	rules   security.Rules
	clock   clock.Clock
}

func NewRateLimiter(limiter security.Limiter, rules security.Rules, clk clock.Clock) *RateLimiter {
	if rules == nil {
		rules = security.DefaultRules()
	}
	return &RateLimiter{limiter: limiter, rules: rules, clock: clk}
}

// Check counts one request of op for client and session. When the limit is
// exceeded it writes the 429 reply and returns false. Limiter failures are
// logged and the request is let through.
func (rl *RateLimiter) Check(w http.ResponseWriter, r *http.Request, sessionID, op string) bool {
	client := ClientIP(r)
	rule := rl.rules.For(op)
	d, err := rl.limiter.Allow(r.Context(), security.RateLimitKey(client, sessionID, op), rule)
	if err != nil {
		log.Printf("[RateLimit] Limiter failure for %s, allowing request: %v", op, err)
		return true
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(d.ResetAt), 10))

	if d.Allowed {
		return true
	}

	retry := int(math.Ceil(d.RetryAfter(rl.clock.Now()).Seconds()))
	h.Set("Retry-After", strconv.Itoa(retry))
	log.Printf("[RateLimit] Security violation: rate limit exceeded for %s (ip=%s, op=%s)", sessionID, client, op)
	RespondError(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "Rate limit exceeded",
		Code:       "RATE_LIMITED",
		RetryAfter: retry,
		ResetTime:  d.ResetAt.UnixMilli(),
	})
	return false
}

// Limit applies Check for op to every request. It must run after Session.
func (rl *RateLimiter) Limit(op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.Check(w, r, GetSessionID(r.Context()), op) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// CheckCSRF validates token for sessionID, writing the 403 reply on
// failure.
func CheckCSRF(w http.ResponseWriter, r *http.Request, csrf *security.CSRFService, sessionID, token string) bool {
	err := csrf.Validate(r.Context(), sessionID, token)
	if err == nil {
		return true
	}
	if !security.IsCSRFError(err) {
		log.Printf("[CSRF] Validation failed for %s: %v", sessionID, err)
	} else {
		log.Printf("[CSRF] Security violation: %v (session=%s, ip=%s)", err, sessionID, ClientIP(r))
	}
	RespondError(w, http.StatusForbidden, ErrorResponse{
		Error: "Invalid or missing CSRF token",
		Code:  "CSRF_TOKEN_INVALID",
	})
	return false
}

// RequireCSRF validates the X-CSRF-Token header of state-changing requests.
// It must run after Session.
func RequireCSRF(csrf *security.CSRFService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if CheckCSRF(w, r, csrf, GetSessionID(r.Context()), r.Header.Get(CSRFHeader)) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func ceilSeconds(t time.Time) int64 {
	ms := t.UnixMilli()
	return (ms + 999) / 1000
}
