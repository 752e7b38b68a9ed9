package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	"github.com/signoff-pay/signoff/internal/logger"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

type principalContextKey struct{}

// AgentIDHeader carries the registry id of the calling agent. The signature
// itself travels in the AgentAuth header.
const AgentIDHeader = "X-Agent-Id"

// AuthRecorder counts rejected authentication attempts. A nil recorder
// disables counting.
type AuthRecorder interface {
	AuthFailure(reason string)
}

// AgentAuthMiddleware authenticates agents by their signed-timestamp header.
type AgentAuthMiddleware struct {
	auth     *agentauth.Authenticator
	recorder AuthRecorder
}

// NewAgentAuthMiddleware creates a new agent auth middleware
func NewAgentAuthMiddleware(auth *agentauth.Authenticator, recorder AuthRecorder) *AgentAuthMiddleware {
	return &AgentAuthMiddleware{auth: auth, recorder: recorder}
}

// Authenticate verifies the AgentAuth header against the exact request body
// and adds the recovered principal to context. The body is buffered and
// restored so downstream handlers can read it again.
func (m *AgentAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get(AgentIDHeader)
		if agentID == "" {
			m.reject(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Missing X-Agent-Id header",
				"",
				http.StatusUnauthorized,
			))
			return
		}

		header := r.Header.Get(agentauth.Header)
		if header == "" {
			m.reject(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Missing AgentAuth header",
				"",
				http.StatusUnauthorized,
			))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.reject(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Failed to read request body",
				"",
				http.StatusBadRequest,
			))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		principal, err := m.auth.Verify(r.Context(), agentID, body, header)
		if err != nil {
			appErr, ok := apperrors.IsAppError(err)
			if !ok {
				logger.Error(r.Context(), "agent auth failed", "error", err)
				appErr = apperrors.ErrInternalError
			}
			m.reject(w, r, appErr)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AgentAuthMiddleware) reject(w http.ResponseWriter, r *http.Request, appErr *apperrors.AppError) {
	if m.recorder != nil {
		m.recorder.AuthFailure(appErr.Code)
	}
	logger.Warn(r.Context(), "rejected agent request",
		"code", appErr.Code,
		"path", r.URL.Path,
	)
	writeError(w, appErr)
}

// GetPrincipal retrieves the authenticated agent principal from context.
func GetPrincipal(ctx context.Context) *agentauth.Principal {
	if p, ok := ctx.Value(principalContextKey{}).(*agentauth.Principal); ok {
		return p
	}
	return nil
}
