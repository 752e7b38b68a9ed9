// Package agentauth verifies that a request originates from the holder of a
// registered agent key. The scheme is a signed timestamp over the request
// body: the header carries "<unix-ts>.<signature>", the signed message is
// "<unix-ts>.<sha256-hex-of-body>" under EIP-191 personal-message hashing.
// Replay exposure is bounded solely by the skew window; there is no nonce
// ledger.
package agentauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// Header carrying the signed timestamp.
const Header = "AgentAuth"

// Principal is the authenticated identity derived from a verified request.
type Principal struct {
	Address      string
	TrustchainID string
	Label        string
}

// RegisteredAgent is one entry of the external agent key registry.
type RegisteredAgent struct {
	ID           string
	Address      string
	TrustchainID string
	Label        string
}

// Registry looks up registered agent keys by claimed agent id.
// Implementations return (nil, nil) for an unknown agent.
type Registry interface {
	GetAgent(ctx context.Context, agentID string) (*RegisteredAgent, error)
}

// Authenticator verifies AgentAuth headers against a key registry.
type Authenticator struct {
	registry Registry
	maxSkew  time.Duration
	now      func() time.Time
}

// New creates an Authenticator with the given registry and skew window.
func New(registry Registry, maxSkew time.Duration) *Authenticator {
	return &Authenticator{
		registry: registry,
		maxSkew:  maxSkew,
		now:      time.Now,
	}
}

// Verify checks the AgentAuth header value against the exact request body
// bytes and returns the authenticated principal.
func (a *Authenticator) Verify(ctx context.Context, agentID string, body []byte, headerValue string) (*Principal, error) {
	ts, sig, err := splitHeader(headerValue)
	if err != nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeUnauthorized, "Malformed AgentAuth header", err.Error(), 401)
	}

	// Freshness first: a stale request is rejected even when the signature
	// itself would verify.
	issued := time.Unix(ts, 0)
	if skew := a.now().Sub(issued); skew > a.maxSkew || skew < -a.maxSkew {
		return nil, apperrors.ErrAuthExpired
	}

	agent, err := a.registry.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up agent %s: %w", agentID, err)
	}
	if agent == nil {
		return nil, apperrors.ErrAuthUnknownAgent
	}

	recovered, err := recoverSigner(Message(ts, body), sig)
	if err != nil {
		return nil, apperrors.ErrAuthInvalidSignature
	}

	if !strings.EqualFold(recovered, agent.Address) {
		return nil, apperrors.ErrAuthInvalidSignature
	}

	return &Principal{
		Address:      strings.ToLower(agent.Address),
		TrustchainID: agent.TrustchainID,
		Label:        agent.Label,
	}, nil
}

// Message builds the signed message for a timestamp and body:
// "<ts>.<hex(sha256(body))>". An empty body hashes like any other byte slice.
func Message(ts int64, body []byte) string {
	sum := sha256.Sum256(body)
	return strconv.FormatInt(ts, 10) + "." + hex.EncodeToString(sum[:])
}

// splitHeader parses "<ts>.<hex-signature>".
func splitHeader(headerValue string) (int64, []byte, error) {
	parts := strings.SplitN(strings.TrimSpace(headerValue), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, nil, fmt.Errorf("expected <timestamp>.<signature>")
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid timestamp: %v", err)
	}

	sig, err := hexutil.Decode(parts[1])
	if err != nil {
		// Accept signatures without the 0x prefix as well
		sig, err = hex.DecodeString(parts[1])
		if err != nil {
			return 0, nil, fmt.Errorf("invalid signature encoding: %v", err)
		}
	}
	if len(sig) != 65 {
		return 0, nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	return ts, sig, nil
}

// recoverSigner recovers the EIP-191 personal-message signer address.
func recoverSigner(message string, sig []byte) (string, error) {
	hash := accounts.TextHash([]byte(message))

	// Normalize v from 27/28 to 0/1 for SigToPub
	adjusted := make([]byte, len(sig))
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, adjusted)
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}

	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
