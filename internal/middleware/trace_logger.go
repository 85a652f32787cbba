package middleware

import (
	"context"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type loggerKey struct{}

// WithTraceLogger stores a request-scoped logger in the context. The logger
// carries the trace and span ids when the request is traced and the session
// identity when the route has one. Completed requests are logged at debug.
func WithTraceLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := withTrace(r.Context(), logger)
			if identity := mux.Vars(r)["identity"]; identity != "" {
				reqLogger = reqLogger.With(zap.String("identity", identity))
			}
			r = r.WithContext(context.WithValue(r.Context(), loggerKey{}, reqLogger))

			// httpsnoop keeps Hijacker intact for websocket upgrades.
			m := httpsnoop.CaptureMetrics(next, w, r)
			reqLogger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", m.Code),
				zap.Duration("duration", m.Duration))
		})
	}
}

// LoggerFromContext returns the request logger, or fallback annotated with
// the span found in ctx.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return withTrace(ctx, fallback)
}

// LoggerFromRequest is LoggerFromContext for an HTTP request.
func LoggerFromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	return LoggerFromContext(r.Context(), fallback)
}

func withTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
