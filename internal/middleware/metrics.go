package middleware

import (
	"net/http"
	"strings"
	"time"
)

// StatusRecorder wraps http.ResponseWriter to capture the response status
// code. Only the first WriteHeader call takes effect.
type StatusRecorder struct {
	http.ResponseWriter
	StatusCode int
	written    bool
}

// NewStatusRecorder creates a new StatusRecorder with a default status of 200 OK.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if !r.written {
		r.StatusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// HTTPRecorder receives one observation per handled request.
type HTTPRecorder interface {
	HTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics records request counts and latency. Intent ids are collapsed out
// of the path label to keep cardinality bounded.
func Metrics(recorder HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if recorder == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			recorder.HTTPRequest(r.Method, metricPath(r.URL.Path), rec.StatusCode, time.Since(start))
		})
	}
}

// metricPath replaces the intent id segment with a placeholder.
func metricPath(path string) string {
	parts := strings.Split(path, "/")
	// /v1/intents/{id} and /v1/intents/{id}/{action}
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "intents" && parts[3] != "" {
		parts[3] = "{id}"
		return strings.Join(parts, "/")
	}
	return path
}
