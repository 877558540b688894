// Package trace assigns request IDs and logs and measures every request.
package trace

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "binledger/internal/log"
	"binledger/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

type contextKey string

const infoKey contextKey = "trace"

// info is shared by the outer middleware and inner handlers so the
// completion log can include the account resolved later in the chain.
type info struct {
	requestID string
	mu        sync.Mutex
	accountID string
}

// Middleware handles request tracing and logging
type Middleware struct {
	extractIP func(*http.Request) string
	metrics   *metrics.Metrics
}

// NewMiddleware creates a trace middleware. m may be nil.
func NewMiddleware(extractIP func(*http.Request) string, m *metrics.Metrics) *Middleware {
	return &Middleware{extractIP: extractIP, metrics: m}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := r.Header.Get(HeaderRequestID)
		if !validRequestID(requestID) {
			requestID = GenerateRequestID()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ri := &info{requestID: requestID}
		ctx := context.WithValue(r.Context(), infoKey, ri)
		ctx = applog.WithLogger(ctx, applog.FromContext(ctx).With(applog.FieldRequestID, requestID))
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)

		m.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		ri.mu.Lock()
		accountID := ri.accountID
		ri.mu.Unlock()
		applog.LogHTTPEnd(ctx, r, route, status, elapsed.Milliseconds(), clientIP, accountID)
	})
}

// routePattern returns the matched chi pattern, keeping metric labels
// bounded. Unmatched requests share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		ok := c == '-' || c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	return uuid.NewString()
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if ri, ok := ctx.Value(infoKey).(*info); ok {
		return ri.requestID
	}
	return ""
}

// SetAccount records the authenticated account for the completion log.
func SetAccount(ctx context.Context, accountID string) {
	if ri, ok := ctx.Value(infoKey).(*info); ok {
		ri.mu.Lock()
		ri.accountID = accountID
		ri.mu.Unlock()
	}
}
