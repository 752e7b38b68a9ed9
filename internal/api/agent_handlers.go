package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// RegisterAgentRequest enrolls a signing key for an agent
type RegisterAgentRequest struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	TrustchainID string `json:"trustchainId"`
	Label        string `json:"label,omitempty"`
}

// handleAgents handles agent registration
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, apperrors.New(
			apperrors.ErrCodeBadRequest,
			"Method not allowed",
			http.StatusMethodNotAllowed,
		))
		return
	}

	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	if req.ID == "" || req.Address == "" || req.TrustchainID == "" {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Missing required fields",
			"id, address and trustchainId are required",
			http.StatusBadRequest,
		))
		return
	}

	if !common.IsHexAddress(req.Address) {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid agent address",
			"address must be a 20-byte hex address",
			http.StatusBadRequest,
		))
		return
	}

	agent := &agentauth.RegisteredAgent{
		ID:           req.ID,
		Address:      strings.ToLower(req.Address),
		TrustchainID: req.TrustchainID,
		Label:        req.Label,
	}

	if err := s.agents.CreateAgent(r.Context(), agent); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, RegisterAgentRequest{
		ID:           agent.ID,
		Address:      agent.Address,
		TrustchainID: agent.TrustchainID,
		Label:        agent.Label,
	})
}
