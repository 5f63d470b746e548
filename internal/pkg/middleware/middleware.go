// Package middleware provides HTTP middleware for slidecast.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	v1 "slidecast/internal/contracts/render/v1"
	"slidecast/internal/httpkit"
	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
)

// RequestIDHeader is the header name for request IDs.
const RequestIDHeader = "X-Request-ID"

// JobIDHeader carries the render job id on /render responses.
const JobIDHeader = "X-Render-Job-ID"

// Client-supplied request ids end up in logs and audit rows.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	size        int64
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// RequestID adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = generateRequestID()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := logger.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs HTTP requests with structured logging.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			reqLog := log.FromContext(r.Context())

			reqLog.Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			logFn := reqLog.Info
			if wrapped.status >= 500 {
				logFn = reqLog.Error
			} else if wrapped.status >= 400 {
				logFn = reqLog.Warn
			}

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"size", wrapped.size,
				"duration_ms", duration.Milliseconds(),
			}
			if jobID := wrapped.Header().Get(JobIDHeader); jobID != "" {
				args = append(args, "job_id", jobID)
			}
			logFn("request completed", args...)
		})
	}
}

// Recovery recovers from panics and logs them. When the response has
// already started, the connection is left to be closed by the server.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrapResponseWriter(w)
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					stack := debug.Stack()

					reqLog := log.FromContext(r.Context())
					reqLog.Error("panic recovered",
						"panic", rec,
						"stack", string(stack),
						"method", r.Method,
						"path", r.URL.Path,
					)

					if !wrapped.wroteHeader {
						httpkit.WriteErr(wrapped, http.StatusInternalServerError, v1.ErrInternal, "")
					}
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	HTTPRequest(method, route string, status int)
}

// Metrics records every request by chi route pattern. It must run inside
// the router so the pattern is known once the handler returns.
func Metrics(rec RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			rec.HTTPRequest(r.Method, route, wrapped.status)
		})
	}
}

// ErrorHandlerFunc is a handler that reports failures by returning them.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

// WrapHandler wraps a handler function that returns an error.
func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleError(w, r, log, err)
		}
	}
}

// HandleError logs err and writes the matching error body. Nothing is
// written when the response has already started.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	reqLog := log.FromContext(r.Context())

	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)
	fields := errors.GetFields(err)

	logFields := []any{
		"error", err.Error(),
		"code", string(code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	for k, v := range fields {
		logFields = append(logFields, k, v)
	}

	if status >= 500 {
		var se *errors.Error
		if errors.As(err, &se) && len(se.Stack) > 0 {
			logFields = append(logFields, "stack", se.StackTrace())
		}
		reqLog.Error("request failed", logFields...)
	} else {
		reqLog.Warn("request error", logFields...)
	}

	if rw, ok := w.(*responseWriter); ok && rw.wroteHeader {
		return
	}
	label, detail := ErrorBody(err)
	httpkit.WriteErr(w, status, label, detail)
}

// ErrorBody maps err onto the public error label and detail.
func ErrorBody(err error) (label, detail string) {
	switch errors.GetCode(err) {
	case errors.CodeValidation:
		var se *errors.Error
		if errors.As(err, &se) && se.Message == v1.ErrSlidesRequired {
			return v1.ErrSlidesRequired, ""
		}
		return v1.ErrInvalidRequest, errors.Detail(err)
	case errors.CodeBusy:
		return v1.ErrRenderBusy, ""
	default:
		return v1.ErrRenderFailed, errors.Detail(err)
	}
}

// generateRequestID generates a unique request ID.
func generateRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
