package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/signoff-pay/signoff/internal/logger"
)

// RequestID tags each request with a unique id. The id is stored in context
// for log correlation and echoed back in the X-Request-ID response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
