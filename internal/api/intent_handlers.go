package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/signoff-pay/signoff/internal/intent"
	"github.com/signoff-pay/signoff/internal/middleware"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
	"github.com/signoff-pay/signoff/pkg/x402"
)

// CreateIntentRequest opens a new intent from a 402 challenge. Challenge is
// the PAYMENT-REQUIRED header value exactly as the resource server sent it.
type CreateIntentRequest struct {
	Resource  string `json:"resource"`
	Challenge string `json:"challenge"`
}

// AuthorizeIntentRequest attaches the signed payment payload. Payload is
// either the base64 header form or the raw JSON document.
type AuthorizeIntentRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// RejectIntentRequest records a human rejection
type RejectIntentRequest struct {
	Reason string `json:"reason"`
}

// SettleIntentRequest records the settlement outcome. Receipt is the
// PAYMENT-RESPONSE header value or the raw JSON document.
type SettleIntentRequest struct {
	Receipt json.RawMessage `json:"receipt"`
}

// IntentResponse represents an intent in API responses. PaymentHeader is the
// encoded PAYMENT-SIGNATURE value, present once the intent is SIGNED.
type IntentResponse struct {
	*intent.Intent
	PaymentHeader string `json:"paymentHeader,omitempty"`
}

func newIntentResponse(it *intent.Intent) IntentResponse {
	resp := IntentResponse{Intent: it}
	if it.Payload != nil {
		if header, err := x402.EncodeSignature(it.Payload); err == nil {
			resp.PaymentHeader = header
		}
	}
	return resp
}

// handleIntents handles the intent collection: creation by agents, listing
// by the operator backend.
func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.agentAuthMiddleware.Authenticate(http.HandlerFunc(s.handleCreateIntent)).ServeHTTP(w, r)
	case http.MethodGet:
		s.appAuthMiddleware.Authenticate(http.HandlerFunc(s.handleListIntents)).ServeHTTP(w, r)
	default:
		s.writeError(w, apperrors.New(
			apperrors.ErrCodeBadRequest,
			"Method not allowed",
			http.StatusMethodNotAllowed,
		))
	}
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		s.writeError(w, apperrors.ErrUnauthorized)
		return
	}

	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	if req.Resource == "" || req.Challenge == "" {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Missing required fields",
			"resource and challenge are required",
			http.StatusBadRequest,
		))
		return
	}

	challenge, err := x402.DecodeChallenge(req.Challenge)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	it, err := s.intents.CreateIntent(r.Context(), principal, req.Resource, challenge)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, newIntentResponse(it))
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Missing userId parameter",
			"",
			http.StatusBadRequest,
		))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Invalid limit parameter",
				"",
				http.StatusBadRequest,
			))
			return
		}
		limit = n
	}

	intents, err := s.intents.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	data := make([]IntentResponse, 0, len(intents))
	for _, it := range intents {
		data = append(data, newIntentResponse(it))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

// handleIntentOperations routes /v1/intents/{id} and /v1/intents/{id}/{action}
func (s *Server) handleIntentOperations(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/intents/"), "/")
	if len(pathParts) < 1 || pathParts[0] == "" {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}
	id := pathParts[0]

	if len(pathParts) == 1 {
		if r.Method != http.MethodGet {
			s.writeError(w, apperrors.New(
				apperrors.ErrCodeBadRequest,
				"Method not allowed",
				http.StatusMethodNotAllowed,
			))
			return
		}
		s.handleGetIntent(w, r, id)
		return
	}

	if len(pathParts) != 2 || r.Method != http.MethodPost {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	var decision http.HandlerFunc
	switch pathParts[1] {
	case "authorize":
		decision = func(w http.ResponseWriter, r *http.Request) { s.handleAuthorizeIntent(w, r, id) }
	case "reject":
		decision = func(w http.ResponseWriter, r *http.Request) { s.handleRejectIntent(w, r, id) }
	case "settle":
		decision = func(w http.ResponseWriter, r *http.Request) { s.handleSettleIntent(w, r, id) }
	default:
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	// Decisions come from the operator backend only
	s.appAuthMiddleware.Authenticate(decision).ServeHTTP(w, r)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request, id string) {
	it, err := s.intents.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newIntentResponse(it))
}

func (s *Server) handleAuthorizeIntent(w http.ResponseWriter, r *http.Request, id string) {
	var req AuthorizeIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}
	if len(req.Payload) == 0 {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Missing payload",
			"",
			http.StatusBadRequest,
		))
		return
	}

	payload, err := x402.DecodeSignature(payloadString(req.Payload))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	it, err := s.intents.Authorize(r.Context(), id, payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newIntentResponse(it))
}

func (s *Server) handleRejectIntent(w http.ResponseWriter, r *http.Request, id string) {
	var req RejectIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	it, err := s.intents.Reject(r.Context(), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newIntentResponse(it))
}

func (s *Server) handleSettleIntent(w http.ResponseWriter, r *http.Request, id string) {
	var req SettleIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}
	if len(req.Receipt) == 0 {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Missing receipt",
			"",
			http.StatusBadRequest,
		))
		return
	}

	receipt, err := x402.DecodeSettlement(payloadString(req.Receipt))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	it, err := s.intents.Settle(r.Context(), id, receipt)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newIntentResponse(it))
}

// payloadString unwraps a JSON field that is either a quoted header value or
// an inline JSON document.
func payloadString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
