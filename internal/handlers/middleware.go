package handlers

import (
	"context"
	"net/http"
	"time"

	"centsible/internal/logging"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type contextKey string

// RequestIDContextKey is the context key for the request ID.
const RequestIDContextKey contextKey = "request_id"

// RequestIDFromContext returns the request ID stored by Instrument.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// statusResponseWriter captures the status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// requestLogger returns the handlers' logger tagged with a request ID.
func (h *Handlers) requestLogger(requestID string) *logging.Logger {
	return h.log.With(zap.String("request_id", requestID))
}

// unmatchedRoute labels requests no route matched (404 and 405 answers).
const unmatchedRoute = "unmatched"

// Instrument tags every request with an ID, logs it and records HTTP metrics
// labelled by route template. It works both as mux middleware and wrapped
// around a whole *mux.Router, which also covers unmatched requests.
func (h *Handlers) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		endpoint := routeTemplate(next, r)

		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(srw, r.WithContext(ctx))

		duration := time.Since(start)
		h.metrics.ObserveRequest(r.Method, endpoint, srw.statusCode, duration)
		h.requestLogger(requestID).Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", srw.statusCode),
			zap.Duration("duration", duration),
		)
	})
}

// routeTemplate returns the path template of the route serving r. Raw paths
// are never used as labels.
func routeTemplate(next http.Handler, r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		if router, ok := next.(*mux.Router); ok {
			var match mux.RouteMatch
			if router.Match(r, &match) && match.MatchErr == nil {
				route = match.Route
			}
		}
	}
	if route == nil {
		return unmatchedRoute
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return tpl
}
