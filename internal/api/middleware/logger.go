package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const slogLoggerKey = "slogLogger"

// quietRoutes are polled by probes and scrapers and only logged on failure.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// SlogLoggerMiddleware stores a request scoped logger tagged with the correlation
// id and writes one access line per request. 5xx responses are logged as errors.
func SlogLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		reqLogger := logger.With(
			slog.String("correlation_id", GetCorrelationID(c)),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
		)
		c.Set(slogLoggerKey, reqLogger)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if quietRoutes[route] && status < 500 {
			return
		}

		attrs := []slog.Attr{
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if uid, ok := c.Get(UserIDKey); ok {
			if id, ok := uid.(uint); ok {
				attrs = append(attrs, slog.Uint64("user_id", uint64(id)))
			}
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		reqLogger.LogAttrs(c.Request.Context(), level, "request completed", attrs...)
	}
}

// LoggerFromContext returns the request logger, falling back to slog.Default.
func LoggerFromContext(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(slogLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
