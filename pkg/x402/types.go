// Package x402 implements the headers of the HTTP 402 payment challenge
// protocol: PAYMENT-REQUIRED, PAYMENT-SIGNATURE and PAYMENT-RESPONSE.
// All three are structured values carried as base64-encoded JSON in a
// single header; encoding is deterministic so a signature may cover the
// exact header bytes.
package x402

import "strings"

// Header names (HTTP header lookup is case-insensitive)
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)

// SchemeExact is the only payment scheme this codec understands today.
const SchemeExact = "exact"

// PaymentRequirement is one accepted way to pay for a resource.
// Immutable once issued by a resource server.
type PaymentRequirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource,omitempty"`
	Description       string            `json:"description,omitempty"`
	PayTo             string            `json:"payTo"`
	Asset             string            `json:"asset"`
	Extra             *RequirementExtra `json:"extra,omitempty"`
}

// RequirementExtra carries token metadata used for EIP-712 domain separation.
type RequirementExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentChallenge is the decoded PAYMENT-REQUIRED header. Produced on 402
// responses; never persisted as-is.
type PaymentChallenge struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}

// PaymentPayload is the decoded PAYMENT-SIGNATURE header: the signed
// authorization a human produced for one selected requirement.
type PaymentPayload struct {
	X402Version int             `json:"x402Version,omitempty"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEVMPayload `json:"payload"`
}

// ExactEVMPayload holds the EIP-3009 transfer authorization and its signature.
type ExactEVMPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization is the EIP-3009 transferWithAuthorization message.
// ValidAfter/ValidBefore are unix-second strings; Nonce is single-use per From.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettlementReceipt is the decoded PAYMENT-RESPONSE header: terminal evidence
// of fund movement.
type SettlementReceipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Matches reports whether the requirement's network and asset appear in the
// given supported sets. Comparison is case-insensitive on the asset.
func (r PaymentRequirement) Matches(networks, assets []string) bool {
	return containsFold(networks, r.Network) && containsFold(assets, r.Asset)
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
