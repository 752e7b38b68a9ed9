// Package client implements the agent-side x402 retry loop: perform a
// request, detect a 402 challenge, open a payment intent, wait for a human
// decision, resubmit with the signed payload and decode the settlement.
package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/signoff-pay/signoff/internal/logger"
	"github.com/signoff-pay/signoff/pkg/x402"
)

const (
	// DefaultPollInterval is the delay between intent status checks.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollTimeout bounds the wait for a human decision,
	// independently of the server-side intent TTL.
	DefaultPollTimeout = 5 * time.Minute
)

// Status is an intent lifecycle state as reported by the approval service.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSigned    Status = "SIGNED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IntentState is the client's view of an intent while polling.
type IntentState struct {
	ID            string
	Status        Status
	RejectReason  string
	PaymentHeader string
}

// IntentsAPI is the approval-service surface the retry loop depends on.
type IntentsAPI interface {
	// CreateIntent opens an intent for the given resource and raw
	// PAYMENT-REQUIRED header value.
	CreateIntent(ctx context.Context, resource, challengeHeader string) (*IntentState, error)

	// GetIntent returns the current state of an intent.
	GetIntent(ctx context.Context, id string) (*IntentState, error)

	// SettleIntent reports the settlement receipt. Implementations without
	// settlement rights may make this a no-op.
	SettleIntent(ctx context.Context, id, receiptHeader string) error
}

// Result is the outcome of a paid fetch.
type Result struct {
	Response *http.Response
	Receipt  *x402.SettlementReceipt
	IntentID string
}

// Client executes the challenge loop against a resource server.
type Client struct {
	httpClient   *http.Client
	intents      IntentsAPI
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for resource requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithPollTimeout bounds the total wait for a human decision.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) { c.pollTimeout = d }
}

// New creates a Client backed by the given approval service.
func New(intents IntentsAPI, opts ...Option) *Client {
	c := &Client{
		httpClient:   http.DefaultClient,
		intents:      intents,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PayAndFetch issues req and, when the server answers 402, runs the full
// challenge cycle before returning the final response. Requests that never
// hit a paywall come back unchanged with a nil receipt.
//
// The request body, if any, is buffered so the request can be resubmitted
// byte-identically with the payment header attached.
func (c *Client) PayAndFetch(ctx context.Context, req *http.Request) (*Result, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, req, body, "")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return &Result{Response: resp}, nil
	}

	challengeHeader := resp.Header.Get(x402.HeaderPaymentRequired)
	drain(resp)

	if _, err := x402.DecodeChallenge(challengeHeader); err != nil {
		return nil, &ProtocolError{Stage: "challenge decode", Err: err}
	}

	state, err := c.intents.CreateIntent(ctx, req.URL.String(), challengeHeader)
	if err != nil {
		return nil, err
	}

	paymentHeader, err := c.waitForDecision(ctx, state)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, req, body, paymentHeader)
	if err != nil {
		return nil, err
	}

	// A repeat 402, or any other failure, after resubmission means the
	// signed authorization did not clear. Never loop back into a new
	// challenge cycle here.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		drain(resp)
		return nil, &SettlementRejectedError{IntentID: state.ID, StatusCode: status}
	}

	receiptHeader := resp.Header.Get(x402.HeaderPaymentResponse)
	receipt, err := x402.DecodeSettlement(receiptHeader)
	if err != nil {
		drain(resp)
		return nil, &ProtocolError{Stage: "receipt decode", Err: err}
	}

	// Settlement reporting is bookkeeping; the payment itself already
	// cleared, so a failure here must not fail the fetch.
	if err := c.intents.SettleIntent(ctx, state.ID, receiptHeader); err != nil {
		logger.Warn(ctx, "failed to report settlement", "intentId", state.ID, "error", err)
	}

	if !receipt.Success {
		drain(resp)
		return nil, &SettlementRejectedError{IntentID: state.ID, StatusCode: resp.StatusCode, Reason: receipt.ErrorReason}
	}

	return &Result{Response: resp, Receipt: receipt, IntentID: state.ID}, nil
}

// waitForDecision polls the intent until it leaves PENDING, returning the
// encoded PAYMENT-SIGNATURE header once signed.
func (c *Client) waitForDecision(ctx context.Context, state *IntentState) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	current := state
	for {
		switch current.Status {
		case StatusSigned:
			if current.PaymentHeader == "" {
				return "", &ProtocolError{Stage: "poll", Err: errors.New("signed intent carries no payment header")}
			}
			return current.PaymentHeader, nil
		case StatusRejected:
			return "", &PaymentRejectedError{IntentID: state.ID, Reason: current.RejectReason}
		case StatusExpired:
			return "", &PaymentTimedOutError{IntentID: state.ID}
		case StatusPending:
			// keep polling
		default:
			return "", &ProtocolError{Stage: "poll", Err: errors.New("unexpected intent status " + string(current.Status))}
		}

		if time.Now().After(deadline) {
			return "", &ClientTimedOutError{IntentID: state.ID}
		}

		select {
		case <-ctx.Done():
			return "", &ClientTimedOutError{IntentID: state.ID, Cause: ctx.Err()}
		case <-ticker.C:
		}

		next, err := c.intents.GetIntent(ctx, state.ID)
		if err != nil {
			return "", err
		}
		current = next
	}
}

// send issues a fresh copy of the original request, optionally carrying the
// PAYMENT-SIGNATURE header.
func (c *Client) send(ctx context.Context, req *http.Request, body []byte, paymentHeader string) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	if paymentHeader != "" {
		out.Header.Set(x402.HeaderPaymentSignature, paymentHeader)
	}
	return c.httpClient.Do(out)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
