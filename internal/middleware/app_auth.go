package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// AppSecretHeader carries the operator credential for the human approval
// channel.
const AppSecretHeader = "X-App-Secret"

// AppAuthMiddleware guards the approval endpoints. The operator backend holds
// one shared secret; only its bcrypt hash is configured here.
type AppAuthMiddleware struct {
	secretHash []byte
}

// NewAppAuthMiddleware creates a new app auth middleware
func NewAppAuthMiddleware(secretHash string) *AppAuthMiddleware {
	return &AppAuthMiddleware{secretHash: []byte(secretHash)}
}

// Authenticate validates the X-App-Secret header against the configured hash.
func (m *AppAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(AppSecretHeader)
		if secret == "" {
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Missing app credentials",
				"Provide X-App-Secret",
				http.StatusUnauthorized,
			))
			return
		}

		if err := bcrypt.CompareHashAndPassword(m.secretHash, []byte(secret)); err != nil {
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Invalid app credentials",
				"",
				http.StatusUnauthorized,
			))
			return
		}

		// Reduce risk of accidental leakage in downstream logs/telemetry.
		r.Header.Del(AppSecretHeader)

		next.ServeHTTP(w, r)
	})
}
