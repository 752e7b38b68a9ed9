package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// HTTPIntents talks to the approval service over its REST API. Intent
// creation is signed with the agent key; settlement reporting additionally
// needs the operator app secret and is skipped when none is configured.
type HTTPIntents struct {
	baseURL    string
	agentID    string
	signer     *agentauth.Signer
	appSecret  string
	httpClient *http.Client
}

// HTTPIntentsConfig configures an HTTPIntents client.
type HTTPIntentsConfig struct {
	BaseURL    string
	AgentID    string
	Signer     *agentauth.Signer
	AppSecret  string
	HTTPClient *http.Client
}

// NewHTTPIntents creates an approval-service client.
func NewHTTPIntents(cfg HTTPIntentsConfig) *HTTPIntents {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPIntents{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		agentID:    cfg.AgentID,
		signer:     cfg.Signer,
		appSecret:  cfg.AppSecret,
		httpClient: hc,
	}
}

var _ IntentsAPI = (*HTTPIntents)(nil)

type intentDocument struct {
	ID            string        `json:"id"`
	Status        Status `json:"status"`
	RejectReason  string        `json:"rejectReason,omitempty"`
	PaymentHeader string        `json:"paymentHeader,omitempty"`
}

func (d *intentDocument) state() *IntentState {
	return &IntentState{
		ID:            d.ID,
		Status:        d.Status,
		RejectReason:  d.RejectReason,
		PaymentHeader: d.PaymentHeader,
	}
}

// CreateIntent opens an intent with a signed request.
func (h *HTTPIntents) CreateIntent(ctx context.Context, resource, challengeHeader string) (*IntentState, error) {
	body, err := json.Marshal(map[string]string{
		"resource":  resource,
		"challenge": challengeHeader,
	})
	if err != nil {
		return nil, err
	}

	authHeader, err := h.signer.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("failed to sign intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", h.agentID)
	req.Header.Set(agentauth.Header, authHeader)

	return h.doIntent(req, http.StatusCreated)
}

// GetIntent fetches the current intent state.
func (h *HTTPIntents) GetIntent(ctx context.Context, id string) (*IntentState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/intents/"+id, nil)
	if err != nil {
		return nil, err
	}
	return h.doIntent(req, http.StatusOK)
}

// SettleIntent reports the settlement receipt. Without an app secret this is
// a no-op; the operator backend records settlement itself in that case.
func (h *HTTPIntents) SettleIntent(ctx context.Context, id, receiptHeader string) error {
	if h.appSecret == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"receipt": receiptHeader})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/intents/"+id+"/settle", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Secret", h.appSecret)

	_, err = h.doIntent(req, http.StatusOK)
	return err
}

// doIntent executes the request and decodes either an intent document or a
// typed service error.
func (h *HTTPIntents) doIntent(req *http.Request, wantStatus int) (*IntentState, error) {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != wantStatus {
		var appErr apperrors.AppError
		if err := json.Unmarshal(raw, &appErr); err == nil && appErr.Code != "" {
			appErr.StatusCode = resp.StatusCode
			return nil, &appErr
		}
		return nil, fmt.Errorf("approval service returned %d: %s", resp.StatusCode, string(raw))
	}

	var doc intentDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode intent response: %w", err)
	}
	return doc.state(), nil
}
