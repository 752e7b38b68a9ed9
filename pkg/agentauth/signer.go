package agentauth

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces AgentAuth header values for outbound requests. Used by the
// challenge client when talking to the intent service over HTTP.
type Signer struct {
	key *ecdsa.PrivateKey
	now func() time.Time
}

// NewSigner creates a Signer for the given agent key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, now: time.Now}
}

// Address returns the agent address derived from the signing key.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Sign builds the AgentAuth header value for the given request body bytes.
func (s *Signer) Sign(body []byte) (string, error) {
	ts := s.now().Unix()

	hash := accounts.TextHash([]byte(Message(ts, body)))
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}

	// Ethereum tooling expects v as 27/28
	if sig[64] < 27 {
		sig[64] += 27
	}

	return strconv.FormatInt(ts, 10) + "." + hexutil.Encode(sig), nil
}
