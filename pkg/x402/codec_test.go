package x402

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

func validChallenge() *PaymentChallenge {
	return &PaymentChallenge{
		X402Version: 1,
		Accepts: []PaymentRequirement{
			{
				Scheme:            SchemeExact,
				Network:           "eip155:8453",
				MaxAmountRequired: "10000",
				Resource:          "https://api.example.com/reports/42",
				Description:       "Quarterly report",
				PayTo:             "0xAB5801a7D398351b8bE11C439e05C5B3259aeC9B",
				Asset:             "USDC",
				Extra:             &RequirementExtra{Name: "USD Coin", Version: "2"},
			},
		},
	}
}

func validPayload() *PaymentPayload {
	return &PaymentPayload{
		X402Version: 1,
		Scheme:      SchemeExact,
		Network:     "eip155:8453",
		Payload: ExactEVMPayload{
			Signature: "0xdeadbeef",
			Authorization: Authorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0xAB5801a7D398351b8bE11C439e05C5B3259aeC9B",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "1999999999",
				Nonce:       "0x01",
			},
		},
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	original := validChallenge()

	encoded, err := EncodeChallenge(original)
	require.NoError(t, err)

	decoded, err := DecodeChallenge(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeChallenge_PlainJSON(t *testing.T) {
	challenge, err := DecodeChallenge(`{"x402Version":1,"accepts":[{"scheme":"exact","network":"eip155:8453","maxAmountRequired":"10000","payTo":"0xAB","asset":"USDC"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 1, challenge.X402Version)
	require.Len(t, challenge.Accepts, 1)
	assert.Equal(t, "eip155:8453", challenge.Accepts[0].Network)
}

func TestDecodeChallenge_UnknownFieldsIgnored(t *testing.T) {
	_, err := DecodeChallenge(`{"x402Version":1,"futureField":true,"accepts":[{"scheme":"exact","network":"eip155:8453","maxAmountRequired":"1","payTo":"0xAB","asset":"USDC","mimeType":"application/json"}]}`)
	assert.NoError(t, err)
}

func TestDecodeChallenge_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"not base64 or json", "%%%"},
		{"invalid json", base64.StdEncoding.EncodeToString([]byte("{"))},
		{"missing version", `{"accepts":[{"scheme":"exact","network":"n","maxAmountRequired":"1","payTo":"p","asset":"a"}]}`},
		{"empty accepts", `{"x402Version":1,"accepts":[]}`},
		{"missing payTo", `{"x402Version":1,"accepts":[{"scheme":"exact","network":"n","maxAmountRequired":"1","asset":"a"}]}`},
		{"missing asset", `{"x402Version":1,"accepts":[{"scheme":"exact","network":"n","maxAmountRequired":"1","payTo":"p"}]}`},
		{"missing amount", `{"x402Version":1,"accepts":[{"scheme":"exact","network":"n","payTo":"p","asset":"a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChallenge(tt.value)
			require.Error(t, err)
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeMalformedChallenge, appErr.Code)
		})
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	original := validPayload()

	encoded, err := EncodeSignature(original)
	require.NoError(t, err)

	decoded, err := DecodeSignature(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEncodeSignature_Deterministic(t *testing.T) {
	first, err := EncodeSignature(validPayload())
	require.NoError(t, err)
	second, err := EncodeSignature(validPayload())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeSignature_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"missing scheme", `{"network":"n","payload":{"signature":"0x1","authorization":{"from":"f","to":"t","value":"1","nonce":"n"}}}`},
		{"missing signature", `{"scheme":"exact","network":"n","payload":{"authorization":{"from":"f","to":"t","value":"1","nonce":"n"}}}`},
		{"incomplete authorization", `{"scheme":"exact","network":"n","payload":{"signature":"0x1","authorization":{"from":"f"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignature(tt.value)
			require.Error(t, err)
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeMalformedPayload, appErr.Code)
		})
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	original := &SettlementReceipt{
		Success:     true,
		Transaction: "0xabc123",
		Network:     "eip155:8453",
		Payer:       "0x1111111111111111111111111111111111111111",
	}

	encoded, err := EncodeSettlement(original)
	require.NoError(t, err)

	decoded, err := DecodeSettlement(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeSettlement_FailureReceipt(t *testing.T) {
	receipt, err := DecodeSettlement(`{"success":false,"errorReason":"insufficient_funds","network":"eip155:8453"}`)
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "insufficient_funds", receipt.ErrorReason)
}

func TestDecodeSettlement_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"missing success", `{"transaction":"0xabc"}`},
		{"success without transaction", `{"success":true,"network":"eip155:8453"}`},
		{"invalid json", "not-json-not-base64!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSettlement(tt.value)
			require.Error(t, err)
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeMalformedReceipt, appErr.Code)
		})
	}
}

func TestRequirementMatches(t *testing.T) {
	req := PaymentRequirement{Network: "eip155:8453", Asset: "USDC"}

	assert.True(t, req.Matches([]string{"eip155:8453"}, []string{"usdc"}))
	assert.False(t, req.Matches([]string{"eip155:1"}, []string{"USDC"}))
	assert.False(t, req.Matches([]string{"eip155:8453"}, []string{"DAI"}))
}
