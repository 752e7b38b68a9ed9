package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// MaxBodySize is the maximum request body size (1 MB). Payment payloads and
// receipts are small; anything bigger is not a legitimate request.
const MaxBodySize = 1 << 20

// LimitBody enforces a size limit on request bodies and buffers them for
// re-reading. Bodies exceeding MaxBodySize return 413 Request Entity Too
// Large.
//
// After reading r.Body, it is restored with io.NopCloser so downstream
// handlers (and the signature check, which hashes the exact bytes) can read
// it again.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
