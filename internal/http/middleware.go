package http

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/showtime-seats/internal/auth"
	"github.com/robertarktes/showtime-seats/internal/idempotency"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"github.com/robertarktes/showtime-seats/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	identityKey
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger returns the request-scoped logger, or fallback outside a request.
func RequestLogger(ctx context.Context, fallback observability.Logger) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return fallback
}

// MetricsMiddleware counts requests by route pattern so path ids do not
// explode the label set.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}

// JWTMiddleware attaches the bearer token's identity to the request. Requests
// without a token pass through anonymous; a bad token is rejected. With no
// secret configured the middleware is a no-op.
func JWTMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if secret == "" || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthorized, Message: "missing bearer token"})
				return
			}
			id, err := auth.ParseAccessToken(secret, raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthorized, Message: "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

func subject(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return id.UserID.String()
	}
	return "anon"
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key and rejects a repeat that arrives while the first is still
// running. Server errors are not stored so the client may retry.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: CodeInvalid, Message: "missing Idempotency-Key"})
				return
			}
			if len(key) < 16 {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: CodeInvalid, Message: "invalid Idempotency-Key"})
				return
			}
			scoped := idempotency.Key(subject(r), r.Method, r.URL.Path, key)
			logger := RequestLogger(r.Context(), observability.NewNopLogger())

			existing, err := idemp.Get(r.Context(), scoped)
			if err != nil {
				logger.WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			claimed, err := idemp.Begin(r.Context(), scoped)
			if err != nil {
				logger.WithError(err).Warn("idempotency claim failed")
			} else if !claimed {
				writeJSON(w, http.StatusConflict, ErrorResponse{Code: CodeConflict, Message: "request with this Idempotency-Key is in progress"})
				return
			}
			if claimed {
				defer func() {
					if err := idemp.Done(context.WithoutCancel(r.Context()), scoped); err != nil {
						logger.WithError(err).Warn("idempotency release failed")
					}
				}()
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusInternalServerError {
				return
			}
			resp := idempotency.Response{Status: ww.Status(), ContentType: ww.Header().Get("Content-Type"), Result: body.Bytes()}
			if err := idemp.Set(context.WithoutCancel(r.Context()), scoped, resp); err != nil {
				logger.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

const (
	userRatePerMinute = 60
	ipRatePerMinute   = 300
)

func RateLimitMiddleware(rl *rateLimit.RateLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if !rl.Allow(r.Context(), "user:"+subject(r), userRatePerMinute, time.Minute) || !rl.Allow(r.Context(), "ip:"+ip, ipRatePerMinute, time.Minute) {
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Code: "rate_limited", Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
