package agentauth

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

type mapRegistry map[string]*RegisteredAgent

func (m mapRegistry) GetAgent(ctx context.Context, agentID string) (*RegisteredAgent, error) {
	return m[agentID], nil
}

func newTestAuth(t *testing.T) (*Authenticator, *Signer) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signer := NewSigner(key)
	registry := mapRegistry{
		"agent-1": {
			ID:           "agent-1",
			Address:      signer.Address(),
			TrustchainID: "tc-42",
			Label:        "research bot",
		},
	}
	return New(registry, 5*time.Minute), signer
}

func TestVerify_ValidSignature(t *testing.T) {
	auth, signer := newTestAuth(t)
	body := []byte(`{"resource":"https://api.example.com/reports/42"}`)

	header, err := signer.Sign(body)
	require.NoError(t, err)

	principal, err := auth.Verify(context.Background(), "agent-1", body, header)
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(signer.Address()), principal.Address)
	assert.Equal(t, "tc-42", principal.TrustchainID)
	assert.Equal(t, "research bot", principal.Label)
}

func TestVerify_EmptyBody(t *testing.T) {
	auth, signer := newTestAuth(t)

	header, err := signer.Sign(nil)
	require.NoError(t, err)

	_, err = auth.Verify(context.Background(), "agent-1", nil, header)
	assert.NoError(t, err)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	auth, signer := newTestAuth(t)
	body := []byte(`{}`)

	// Sign with a timestamp ten minutes in the past; the signature itself is
	// cryptographically valid.
	signer.now = func() time.Time { return time.Now().Add(-10 * time.Minute) }
	header, err := signer.Sign(body)
	require.NoError(t, err)

	_, err = auth.Verify(context.Background(), "agent-1", body, header)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAuthExpired, appErr.Code)
}

func TestVerify_FutureTimestamp(t *testing.T) {
	auth, signer := newTestAuth(t)
	body := []byte(`{}`)

	signer.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	header, err := signer.Sign(body)
	require.NoError(t, err)

	_, err = auth.Verify(context.Background(), "agent-1", body, header)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAuthExpired, appErr.Code)
}

func TestVerify_UnknownAgent(t *testing.T) {
	auth, signer := newTestAuth(t)
	body := []byte(`{}`)

	header, err := signer.Sign(body)
	require.NoError(t, err)

	_, err = auth.Verify(context.Background(), "agent-unregistered", body, header)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAuthUnknownAgent, appErr.Code)
}

func TestVerify_WrongKey(t *testing.T) {
	auth, _ := newTestAuth(t)
	body := []byte(`{}`)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	header, err := NewSigner(otherKey).Sign(body)
	require.NoError(t, err)

	_, err = auth.Verify(context.Background(), "agent-1", body, header)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAuthInvalidSignature, appErr.Code)
}

func TestVerify_TamperedBody(t *testing.T) {
	auth, signer := newTestAuth(t)

	header, err := signer.Sign([]byte(`{"value":"10000"}`))
	require.NoError(t, err)

	_, err = auth.Verify(context.Background(), "agent-1", []byte(`{"value":"99999"}`), header)
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAuthInvalidSignature, appErr.Code)
}

func TestVerify_MalformedHeader(t *testing.T) {
	auth, _ := newTestAuth(t)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"no separator", "1700000000"},
		{"empty signature", now + "."},
		{"non-numeric timestamp", "soon.0xabcdef"},
		{"bad signature hex", now + ".0xzz"},
		{"short signature", now + ".0xabcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Verify(context.Background(), "agent-1", nil, tt.header)
			assert.Error(t, err)
		})
	}
}
