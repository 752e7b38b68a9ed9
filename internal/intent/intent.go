// Package intent holds the payment-intent aggregate and its lifecycle state
// machine. An intent is created PENDING on behalf of an authenticated agent,
// decided exactly once by a human (SIGNED or REJECTED) or by timeout
// (EXPIRED), and, once SIGNED, finished by settlement (COMPLETED or FAILED).
package intent

import (
	"time"

	"github.com/signoff-pay/signoff/pkg/x402"
)

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSigned    Status = "SIGNED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSigned, StatusRejected, StatusExpired, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Intent is the aggregate root: one in-progress or resolved payment
// authorization request. Mutated only through the Service.
type Intent struct {
	ID                string                  `json:"id"`
	UserID            string                  `json:"userId"`
	TrustchainID      string                  `json:"trustchainId,omitempty"`
	Status            Status                  `json:"status"`
	Resource          string                  `json:"resource"`
	ChosenRequirement x402.PaymentRequirement `json:"chosenRequirement"`
	Payload           *x402.PaymentPayload    `json:"payload,omitempty"`
	Receipt           *x402.SettlementReceipt `json:"receipt,omitempty"`
	RejectReason      string                  `json:"rejectReason,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
	ExpiresAt         time.Time               `json:"expiresAt"`
}

// Clone returns a deep-enough copy for handing records across the store
// boundary without sharing mutable state.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	out := *i
	if i.Payload != nil {
		p := *i.Payload
		out.Payload = &p
	}
	if i.Receipt != nil {
		r := *i.Receipt
		out.Receipt = &r
	}
	return &out
}
