package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// DecodeChallenge parses a PAYMENT-REQUIRED header value into a
// PaymentChallenge. The value may be base64-encoded JSON or plain JSON.
// Unknown fields are ignored rather than rejected.
func DecodeChallenge(headerValue string) (*PaymentChallenge, error) {
	raw, err := headerBytes(headerValue)
	if err != nil {
		return nil, apperrors.MalformedChallenge(err.Error())
	}

	var challenge PaymentChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, apperrors.MalformedChallenge(fmt.Sprintf("invalid JSON: %v", err))
	}

	if challenge.X402Version == 0 {
		return nil, apperrors.MalformedChallenge("missing x402Version")
	}
	if len(challenge.Accepts) == 0 {
		return nil, apperrors.MalformedChallenge("accepts must be a non-empty list")
	}
	for i, req := range challenge.Accepts {
		if err := validateRequirement(req); err != nil {
			return nil, apperrors.MalformedChallenge(fmt.Sprintf("accepts[%d]: %v", i, err))
		}
	}

	return &challenge, nil
}

// EncodeChallenge serializes a PaymentChallenge into a PAYMENT-REQUIRED
// header value.
func EncodeChallenge(challenge *PaymentChallenge) (string, error) {
	data, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeSignature serializes a PaymentPayload into a PAYMENT-SIGNATURE header
// value. json.Marshal emits struct fields in declaration order, so the same
// payload always encodes to identical bytes.
func EncodeSignature(payload *PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSignature parses a PAYMENT-SIGNATURE header value into a PaymentPayload.
func DecodeSignature(headerValue string) (*PaymentPayload, error) {
	raw, err := headerBytes(headerValue)
	if err != nil {
		return nil, apperrors.MalformedPayload(err.Error())
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.MalformedPayload(fmt.Sprintf("invalid JSON: %v", err))
	}

	if payload.Scheme == "" || payload.Network == "" {
		return nil, apperrors.MalformedPayload("scheme and network are required")
	}
	if payload.Payload.Signature == "" {
		return nil, apperrors.MalformedPayload("missing signature")
	}
	auth := payload.Payload.Authorization
	if auth.From == "" || auth.To == "" || auth.Value == "" || auth.Nonce == "" {
		return nil, apperrors.MalformedPayload("incomplete authorization")
	}

	return &payload, nil
}

// EncodeSettlement serializes a SettlementReceipt into a PAYMENT-RESPONSE
// header value.
func EncodeSettlement(receipt *SettlementReceipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement parses a PAYMENT-RESPONSE header value into a
// SettlementReceipt. A successful receipt must carry a transaction reference.
func DecodeSettlement(headerValue string) (*SettlementReceipt, error) {
	raw, err := headerBytes(headerValue)
	if err != nil {
		return nil, apperrors.MalformedReceipt(err.Error())
	}

	// Distinguish "success absent" from "success false"
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, apperrors.MalformedReceipt(fmt.Sprintf("invalid JSON: %v", err))
	}
	if _, ok := probe["success"]; !ok {
		return nil, apperrors.MalformedReceipt("missing success")
	}

	var receipt SettlementReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, apperrors.MalformedReceipt(fmt.Sprintf("invalid JSON: %v", err))
	}

	if receipt.Success && receipt.Transaction == "" {
		return nil, apperrors.MalformedReceipt("successful receipt missing transaction")
	}

	return &receipt, nil
}

// headerBytes decodes a header value that is either base64-encoded JSON or
// plain JSON. Plain JSON is detected by a leading '{'.
func headerBytes(headerValue string) ([]byte, error) {
	trimmed := strings.TrimSpace(headerValue)
	if trimmed == "" {
		return nil, fmt.Errorf("empty header value")
	}
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %v", err)
	}
	return raw, nil
}

func validateRequirement(req PaymentRequirement) error {
	switch {
	case req.Scheme == "":
		return fmt.Errorf("missing scheme")
	case req.Network == "":
		return fmt.Errorf("missing network")
	case req.PayTo == "":
		return fmt.Errorf("missing payTo")
	case req.Asset == "":
		return fmt.Errorf("missing asset")
	case req.MaxAmountRequired == "":
		return fmt.Errorf("missing maxAmountRequired")
	}
	return nil
}
