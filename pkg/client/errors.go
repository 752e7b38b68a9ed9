package client

import "fmt"

// ProtocolError reports a violation of the x402 wire protocol: a malformed
// challenge, a missing or undecodable receipt. Not retryable.
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("x402 protocol error during %s: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PaymentRejectedError means a human declined the intent. Terminal; the
// original request was never resubmitted.
type PaymentRejectedError struct {
	IntentID string
	Reason   string
}

func (e *PaymentRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payment rejected: intent %s", e.IntentID)
	}
	return fmt.Sprintf("payment rejected: intent %s: %s", e.IntentID, e.Reason)
}

// PaymentTimedOutError means the intent expired server-side before a human
// acted on it. Terminal.
type PaymentTimedOutError struct {
	IntentID string
}

func (e *PaymentTimedOutError) Error() string {
	return fmt.Sprintf("payment timed out: intent %s expired before authorization", e.IntentID)
}

// ClientTimedOutError means this client gave up polling while the intent was
// still PENDING. The intent may still resolve later out-of-band.
type ClientTimedOutError struct {
	IntentID string
	Cause    error
}

func (e *ClientTimedOutError) Error() string {
	return fmt.Sprintf("client timed out waiting for intent %s", e.IntentID)
}

func (e *ClientTimedOutError) Unwrap() error { return e.Cause }

// SettlementRejectedError means resubmission with a signed payload did not
// produce a successful settlement. Not retried to avoid retry storms against
// an authorization that will never clear.
type SettlementRejectedError struct {
	IntentID   string
	StatusCode int
	Reason     string
}

func (e *SettlementRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("settlement rejected for intent %s: %s", e.IntentID, e.Reason)
	}
	return fmt.Sprintf("settlement rejected for intent %s: resource server returned %d", e.IntentID, e.StatusCode)
}
