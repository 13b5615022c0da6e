package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/filegate/filegate/internal/observability"
)

// Middleware wraps an http.RoundTripper with additional behavior.
type Middleware func(http.RoundTripper) http.RoundTripper

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain composes middlewares around a base transport. The first middleware
// listed becomes the outermost, mirroring top-down registration order.
func Chain(base http.RoundTripper, middlewares ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	// Build chain from right to left
	rt := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		rt = middlewares[i](rt)
	}
	return rt
}

type operationKey struct{}

// WithOperation tags the request context with a logical operation name
// (presign, upload, status) used for logging and metric labels.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFrom(req *http.Request) string {
	if op, ok := req.Context().Value(operationKey{}).(string); ok {
		return op
	}
	return req.Method
}

// RequestID stamps outgoing requests with an X-Request-Id header so backend
// logs can be correlated with client attempts.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-Request-Id") == "" {
				req = req.Clone(req.Context())
				req.Header.Set("X-Request-Id", uuid.New().String())
			}
			return next.RoundTrip(req)
		})
	}
}

// Logging logs each request with timing and status, error level on failure.
func Logging(logger *zap.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()

			resp, err := next.RoundTrip(req)

			duration := time.Since(start)
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}

			logLevel := zapcore.InfoLevel
			if err != nil || status >= 400 {
				logLevel = zapcore.ErrorLevel
			}

			logger.Check(logLevel, "http request").Write(
				zap.String("operation", operationFrom(req)),
				zap.String("method", req.Method),
				zap.String("url", req.URL.Redacted()),
				zap.String("request_id", req.Header.Get("X-Request-Id")),
				zap.Duration("duration", duration),
				zap.Int("status", status),
				zap.Error(err),
			)

			return resp, err
		})
	}
}

// Metrics records per-operation request durations and status codes.
func Metrics(m *observability.Metrics) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()

			resp, err := next.RoundTrip(req)

			code := 0
			if resp != nil {
				code = resp.StatusCode
			}
			m.ObserveRequest(operationFrom(req), code, time.Since(start))

			return resp, err
		})
	}
}

// NewHTTPClient builds the shared client used for the presign, upload and
// status calls.
func NewHTTPClient(logger *zap.Logger, metrics *observability.Metrics) *http.Client {
	return &http.Client{
		Transport: Chain(http.DefaultTransport,
			RequestID(),
			Logging(logger),
			Metrics(metrics),
		),
	}
}
