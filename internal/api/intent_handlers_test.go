package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	"github.com/signoff-pay/signoff/internal/config"
	"github.com/signoff-pay/signoff/internal/intent"
	"github.com/signoff-pay/signoff/internal/middleware"
	"github.com/signoff-pay/signoff/pkg/x402"
)

const testAppSecret = "sp_sk_test_secret"

type memRegistry struct {
	agents map[string]*agentauth.RegisteredAgent
}

func (m *memRegistry) GetAgent(ctx context.Context, id string) (*agentauth.RegisteredAgent, error) {
	return m.agents[id], nil
}

func (m *memRegistry) CreateAgent(ctx context.Context, agent *agentauth.RegisteredAgent) error {
	m.agents[agent.ID] = agent
	return nil
}

type fixture struct {
	server  *httptest.Server
	signer  *agentauth.Signer
	service *intent.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := agentauth.NewSigner(key)

	registry := &memRegistry{agents: map[string]*agentauth.RegisteredAgent{
		"agent-1": {ID: "agent-1", Address: signer.Address(), TrustchainID: "tc-1"},
	}}

	store := intent.NewMemoryStore()
	service := intent.NewService(store, intent.Config{
		TTL:               10 * time.Minute,
		SupportedNetworks: []string{"eip155:8453"},
		SupportedAssets:   []string{"USDC"},
	}, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAppSecret), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{Port: 0, AppSecretHash: string(hash)}
	srv := NewServer(
		cfg,
		service,
		registry,
		middleware.NewAgentAuthMiddleware(agentauth.New(registry, 5*time.Minute), nil),
		middleware.NewAppAuthMiddleware(string(hash)),
		nil,
		nil,
		nil,
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, signer: signer, service: service}
}

func challengeHeader(t *testing.T) string {
	t.Helper()
	header, err := x402.EncodeChallenge(&x402.PaymentChallenge{
		X402Version: 1,
		Accepts: []x402.PaymentRequirement{{
			Scheme:            x402.SchemeExact,
			Network:           "eip155:8453",
			MaxAmountRequired: "10000",
			PayTo:             "0x2222222222222222222222222222222222222222",
			Asset:             "USDC",
		}},
	})
	require.NoError(t, err)
	return header
}

// createIntent drives the agent channel end to end: sign the body, POST it,
// decode the created intent.
func (f *fixture) createIntent(t *testing.T) IntentResponse {
	t.Helper()

	body, err := json.Marshal(CreateIntentRequest{
		Resource:  "https://api.example.com/reports/42",
		Challenge: challengeHeader(t),
	})
	require.NoError(t, err)

	header, err := f.signer.Sign(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/intents", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(middleware.AgentIDHeader, "agent-1")
	req.Header.Set(agentauth.Header, header)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created IntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func (f *fixture) appPost(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(middleware.AppSecretHeader, testAppSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func authorizationPayload(nonce string) *x402.PaymentPayload {
	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      x402.SchemeExact,
		Network:     "eip155:8453",
		Payload: x402.ExactEVMPayload{
			Signature: "0xsig",
			Authorization: x402.Authorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0x2222222222222222222222222222222222222222",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
				Nonce:       nonce,
			},
		},
	}
}

func TestCreateIntentEndpoint(t *testing.T) {
	f := newFixture(t)

	created := f.createIntent(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, intent.StatusPending, created.Status)
	assert.Empty(t, created.PaymentHeader)
}

func TestCreateIntentEndpoint_RejectsUnsigned(t *testing.T) {
	f := newFixture(t)

	body, err := json.Marshal(CreateIntentRequest{Resource: "https://r", Challenge: challengeHeader(t)})
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+"/v1/intents", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateIntentEndpoint_MalformedChallenge(t *testing.T) {
	f := newFixture(t)

	body, err := json.Marshal(CreateIntentRequest{Resource: "https://r", Challenge: "!!!not-base64!!!"})
	require.NoError(t, err)

	header, err := f.signer.Sign(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/intents", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(middleware.AgentIDHeader, "agent-1")
	req.Header.Set(agentauth.Header, header)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetIntentEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	resp, err := http.Get(f.server.URL + "/v1/intents/" + created.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got IntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, intent.StatusPending, got.Status)
}

func TestGetIntentEndpoint_NotFound(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/intents/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthorizeEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	resp := f.appPost(t, "/v1/intents/"+created.ID+"/authorize", AuthorizeIntentRequest{
		Payload: mustRaw(t, authorizationPayload("0x01")),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got IntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, intent.StatusSigned, got.Status)
	assert.NotEmpty(t, got.PaymentHeader)

	// The payment header round-trips through the codec
	payload, err := x402.DecodeSignature(got.PaymentHeader)
	require.NoError(t, err)
	assert.Equal(t, "0x01", payload.Payload.Authorization.Nonce)
}

func TestAuthorizeEndpoint_RequiresAppSecret(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	body, err := json.Marshal(AuthorizeIntentRequest{Payload: mustRaw(t, authorizationPayload("0x01"))})
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+"/v1/intents/"+created.ID+"/authorize", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	resp := f.appPost(t, "/v1/intents/"+created.ID+"/reject", RejectIntentRequest{Reason: "too expensive"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got IntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, intent.StatusRejected, got.Status)
	assert.Equal(t, "too expensive", got.RejectReason)

	// A second decision conflicts
	resp = f.appPost(t, "/v1/intents/"+created.ID+"/reject", RejectIntentRequest{Reason: "again"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSettleEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	resp := f.appPost(t, "/v1/intents/"+created.ID+"/authorize", AuthorizeIntentRequest{
		Payload: mustRaw(t, authorizationPayload("0x01")),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.appPost(t, "/v1/intents/"+created.ID+"/settle", SettleIntentRequest{
		Receipt: mustRaw(t, &x402.SettlementReceipt{
			Success:     true,
			Transaction: "0xabc",
			Network:     "eip155:8453",
		}),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got IntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, intent.StatusCompleted, got.Status)
	require.NotNil(t, got.Receipt)
	assert.Equal(t, "0xabc", got.Receipt.Transaction)
}

func TestSettleEndpoint_RequiresSigned(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	resp := f.appPost(t, "/v1/intents/"+created.ID+"/settle", SettleIntentRequest{
		Receipt: mustRaw(t, &x402.SettlementReceipt{Success: true, Transaction: "0xabc"}),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListIntentsEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.createIntent(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/v1/intents?userId="+created.UserID, nil)
	require.NoError(t, err)
	req.Header.Set(middleware.AppSecretHeader, testAppSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []IntentResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, created.ID, body.Data[0].ID)
}

func TestRegisterAgentEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.appPost(t, "/v1/agents", RegisterAgentRequest{
		ID:           "agent-2",
		Address:      "0xAB5801a7D398351b8bE11C439e05C5B3259aeC9B",
		TrustchainID: "tc-2",
		Label:        "ops bot",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got RegisterAgentRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "agent-2", got.ID)
	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", got.Address)
}

func TestRegisterAgentEndpoint_InvalidAddress(t *testing.T) {
	f := newFixture(t)

	resp := f.appPost(t, "/v1/agents", RegisterAgentRequest{
		ID:           "agent-3",
		Address:      "not-an-address",
		TrustchainID: "tc-3",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
