package server

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/oklog/ulid/v2"

	"github.com/isometry/s3-authserver/internal/model"
	"github.com/isometry/s3-authserver/internal/signature"
)

// RequestIDHeader carries the per-request ID on every response.
const RequestIDHeader = "X-Amz-Request-Id"

type requestInfoKey struct{}

// requestInfo is filled in as a request passes through the handlers.
type requestInfo struct {
	id     string
	action string
}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &requestInfo{id: ulid.Make().String()}
		ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
		for _, subsystem := range []string{Subsystem, signature.Subsystem} {
			ctx = tflog.SubsystemSetField(ctx, subsystem, "request_id", info.id)
		}

		w.Header().Set(RequestIDHeader, info.id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.begin()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		info := infoFrom(r.Context())
		s.metrics.end(info.action, sw.code, elapsed)
		tflog.SubsystemDebug(r.Context(), Subsystem, "Request completed", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"action":      info.action,
			"status":      sw.code,
			"duration_ms": elapsed.Milliseconds(),
		})
	})
}

// limit holds each request until one of the configured handler slots is
// free. A request whose client goes away while waiting is answered with
// ServiceUnavailable.
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.slots == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.slots.Acquire(r.Context(), 1); err != nil {
			writeError(w, r, model.ErrServiceUnavailable)
			return
		}
		defer s.slots.Release(1)
		next.ServeHTTP(w, r)
	})
}
