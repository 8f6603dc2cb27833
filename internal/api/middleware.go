package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/observability"
	"oraculo/internal/protocol"
)

type ctxKey int

const (
	signerKey ctxKey = iota
	signerSlotKey
	requestIDKey
)

// SignerFrom returns the verified signer of a request.
func SignerFrom(ctx context.Context) (domain.Address, bool) {
	a, ok := ctx.Value(signerKey).(domain.Address)
	return a, ok
}

// RequestIDFrom returns the request ID assigned by the server.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RateLimiter decides whether a client may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Hijack lets WebSocket upgrades pass through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// requestID assigns every request a UUID, echoed in X-Request-ID. A
// well-formed incoming ID is kept.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// logging logs each request and records its latency by route pattern.
func logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			// authenticate runs on a derived request; it reports the signer here.
			slot := new(domain.Address)
			r = r.WithContext(context.WithValue(r.Context(), signerSlotKey, slot))
			next.ServeHTTP(sw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			observability.RecordHTTPRequest(route, sw.status, elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", elapsed),
				zap.String("request_id", RequestIDFrom(r.Context())),
			}
			if !slot.IsZero() {
				fields = append(fields, zap.Stringer("signer", *slot))
			}
			if sw.status >= http.StatusInternalServerError {
				logger.Warn("http request", fields...)
				return
			}
			logger.Debug("http request", fields...)
		})
	}
}

// rateLimit limits each client IP to limit requests per window. Limiter
// errors let the request through.
func rateLimit(limiter RateLimiter, limit int, window time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), "api:"+clientIP(r), limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				observability.RecordRateLimited()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate verifies the signature of a mutating request, bounding its
// body by maxBody, and puts the signer in the context. Each (signer, nonce)
// pair is accepted once; nonces are kept for twice the skew so a replay is
// rejected for as long as its timestamp would pass.
func authenticate(maxBody int64, skew time.Duration, now func() time.Time, nonces NonceStore, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "read body: "+err.Error())
				return
			}

			sh := headersOf(r.Header)
			signer, err := verifyRequest(sh, r.Method, r.URL.Path, body, now(), skew)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			fresh, err := nonces.Claim(r.Context(), signer.String()+":"+sh.nonce, 2*skew)
			if err != nil {
				logger.Error("nonce store unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
				return
			}
			if !fresh {
				observability.RecordReplayRejected()
				writeJSON(w, http.StatusConflict, errorBody{
					Error: ErrReplayedRequest.Error(),
					Code:  codeReplayedRequest,
					Kind:  string(protocol.KindStateConflict),
				})
				return
			}

			if slot, ok := r.Context().Value(signerSlotKey).(*domain.Address); ok {
				*slot = signer
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next(w, r.WithContext(context.WithValue(r.Context(), signerKey, signer)))
		}
	}
}
