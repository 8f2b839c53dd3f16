package handlers

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"bananaclash/internal/models"
	"bananaclash/internal/security"
	"bananaclash/internal/service"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const IdentityContextKey ContextKey = "identity"

// Middleware holds dependencies for middleware functions
type Middleware struct {
	identities *service.IdentityService
	csrf       *security.CSRFGenerator
	limiter    *security.RateLimiter
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(identities *service.IdentityService, csrf *security.CSRFGenerator, limiter *security.RateLimiter) *Middleware {
	return &Middleware{
		identities: identities,
		csrf:       csrf,
		limiter:    limiter,
	}
}

// RequireIdentity rejects requests without a valid identity cookie
func (m *Middleware) RequireIdentity(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		cookie, err := r.Cookie(IdentityCookieName)
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrUnauthorized})
			return
		}

		id, err := m.identities.Verify(cookie.Value)
		if err != nil {
			http.SetCookie(w, security.ExpiredCookie(r, IdentityCookieName))
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrUnauthorized})
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, id)
		ctx = zerolog.Ctx(ctx).With().Str("player", id.ID).Logger().WithContext(ctx)
		next(w, r.WithContext(ctx), ps)
	}
}

// CSRFProtect requires the identity's CSRF token on state changing requests.
// It must run inside RequireIdentity.
func (m *Middleware) CSRFProtect(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, ok := IdentityFromContext(r.Context())
		if !ok || !m.csrf.ValidateToken(id.ID, r.Header.Get(CSRFHeaderName)) {
			respondJSON(w, http.StatusForbidden, errorResponse{Error: ErrForbidden})
			return
		}
		next(w, r, ps)
	}
}

// RateLimit throttles requests per client IP
func (m *Middleware) RateLimit(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !m.limiter.Allow(security.GetClientIP(r)) {
			respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: ErrTooManyRequests})
			return
		}
		next(w, r, ps)
	}
}

// statusRecorder captures the response status for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logger
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Logging attaches log to every request context and writes an access log line
func Logging(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(log.WithContext(r.Context())))

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// IdentityFromContext retrieves the caller's identity from the request context
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(models.Identity)
	return id, ok
}
