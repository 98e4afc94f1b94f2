package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
	"github.com/sureline/whatsapp-orchestrator/pkg/metrics"
)

// RequestIDKey is the context key for the request correlation id.
const RequestIDKey ContextKey = "request_id"

// GetRequestID gets the correlation id from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(RequestIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// Logging logs every request and records request metrics. Each request gets
// a correlation id, echoed in the X-Request-ID header.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.Must(uuid.NewV7()).String()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			duration := time.Since(start)
			routePath := chi.RouteContext(r.Context()).RoutePattern()
			if routePath == "" {
				routePath = r.URL.Path
			}

			metrics.RecordRequest(r.Method, routePath, strconv.Itoa(ww.Status()), duration.Seconds())

			log.Info("request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", duration),
			)
		})
	}
}
