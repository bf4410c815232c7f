package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipewright/pipewright/internal/constants"
	loggerPkg "github.com/pipewright/pipewright/internal/logger"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// generateRequestID generates a random request ID using crypto/rand.
func generateRequestID() string {
	b := make([]byte, constants.RequestIDByteSize)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}

// requestIDMiddleware reuses a request ID already present in the context or
// generates a random one, and stores a request-scoped logger alongside it.
func (r *Router) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := loggerPkg.GetRequestID(req.Context())
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := loggerPkg.WithRequestID(req.Context(), requestID)
		log := r.log.With(loggerPkg.RequestIDLogField, requestID)
		ctx = context.WithValue(ctx, loggerContextKey, log)

		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// requestTimeoutMiddleware creates a context with timeout for each request.
// The timeout starts when the request is received, ensuring each request has
// a fair timeout regardless of connection reuse.
func (r *Router) requestTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			defer cancel()

			req = req.WithContext(ctx)
			next.ServeHTTP(w, req)

			if ctx.Err() == context.DeadlineExceeded {
				logger := r.GetLoggerFromContext(req.Context())
				logger.Warn("request timeout exceeded", "request", map[string]any{
					"method":  req.Method,
					"path":    req.URL.Path,
					"timeout": timeout,
				})
			}
		})
	}
}

// corsMiddleware handles CORS headers for cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// setContentTypeJSONMiddleware sets Content-Type to application/json for all responses.
func setContentTypeJSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set(constants.ContentTypeHeader, "application/json")
		next.ServeHTTP(w, req)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// requestLoggingMiddleware logs incoming requests and their responses using
// the request-scoped logger.
func (r *Router) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := r.GetLoggerFromContext(req.Context())
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		logger.Info("processing incoming client request", "request", map[string]string{
			"method":     req.Method,
			"path":       req.URL.Path,
			"remoteAddr": req.RemoteAddr,
		})

		next.ServeHTTP(wrapped, req)
		duration := time.Since(start)

		logger.Info("response sent to client", "response", map[string]any{
			"status":   wrapped.statusCode,
			"duration": duration.String(),
		})
	})
}

// GetLoggerFromContext extracts the request-scoped logger from the context,
// falling back to the router logger.
func (r *Router) GetLoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return r.log
}
