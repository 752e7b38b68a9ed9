package intent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	"github.com/signoff-pay/signoff/internal/logger"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
	"github.com/signoff-pay/signoff/pkg/x402"
)

// Recorder receives lifecycle observations. Implemented by internal/metrics;
// a nil Recorder disables recording.
type Recorder interface {
	IntentCreated(network, asset string)
	IntentTransition(from, to string)
}

// Config holds the service's lifecycle policy.
type Config struct {
	TTL               time.Duration
	SupportedNetworks []string
	SupportedAssets   []string
}

// Service is the intent lifecycle state machine. All transitions go through
// the store's compare-and-swap, so each intent is decided at most once no
// matter how many callers race.
type Service struct {
	store    Store
	cfg      Config
	recorder Recorder
	now      func() time.Time
}

// NewService creates a Service on top of a Store.
func NewService(store Store, cfg Config, recorder Recorder) *Service {
	return &Service{
		store:    store,
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
	}
}

// CreateIntent selects one acceptable requirement from the challenge and
// persists a PENDING intent on behalf of the authenticated agent.
func (s *Service) CreateIntent(ctx context.Context, principal *agentauth.Principal, resource string, challenge *x402.PaymentChallenge) (*Intent, error) {
	requirement, err := s.selectRequirement(challenge)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	it := &Intent{
		ID:                uuid.NewString(),
		UserID:            strings.ToLower(principal.Address),
		TrustchainID:      principal.TrustchainID,
		Status:            StatusPending,
		Resource:          resource,
		ChosenRequirement: *requirement,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.TTL),
	}

	if err := s.store.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("failed to create intent: %w", err)
	}

	if s.recorder != nil {
		s.recorder.IntentCreated(requirement.Network, requirement.Asset)
	}
	logger.Info(ctx, "intent created",
		"intent_id", it.ID,
		"user_id", it.UserID,
		"resource", resource,
		"network", requirement.Network,
		"asset", requirement.Asset,
		"amount", requirement.MaxAmountRequired)

	return it, nil
}

// Get returns the intent, converting an overdue PENDING record to EXPIRED
// before reporting it. An intent observed past its deadline is never
// returned as PENDING.
func (s *Service) Get(ctx context.Context, id string) (*Intent, error) {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	if it == nil {
		return nil, apperrors.IntentNotFound(id)
	}

	if it.Status == StatusPending && s.now().After(it.ExpiresAt) {
		return s.Expire(ctx, id)
	}

	return it, nil
}

// Authorize attaches a human-signed payload, moving PENDING to SIGNED. Two
// concurrent calls on the same intent yield exactly one success; the loser
// gets IntentNotPending.
func (s *Service) Authorize(ctx context.Context, id string, payload *x402.PaymentPayload) (*Intent, error) {
	// Read through Get so an overdue intent is expired first and the
	// decision below conflicts instead of signing it.
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	if err := s.validatePayload(ctx, payload); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, StatusPending, StatusSigned, func(it *Intent) {
		it.Payload = payload
	})
}

// Reject records a human decline, moving PENDING to REJECTED.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Intent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, StatusPending, StatusRejected, func(it *Intent) {
		it.RejectReason = reason
	})
}

// Expire moves an overdue PENDING intent to EXPIRED. Invoked lazily by
// readers and by the sweeper; idempotent when the intent is already terminal.
func (s *Service) Expire(ctx context.Context, id string) (*Intent, error) {
	it, err := s.transition(ctx, id, StatusPending, StatusExpired, nil)
	if err == nil {
		return it, nil
	}

	// Lost the race to another transition: report whatever state won.
	if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.ErrCodeIntentNotPending {
		current, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("failed to re-read intent: %w", getErr)
		}
		if current != nil {
			return current, nil
		}
	}
	return nil, err
}

// Settle records the settlement outcome, moving SIGNED to COMPLETED or
// FAILED depending on the receipt.
func (s *Service) Settle(ctx context.Context, id string, receipt *x402.SettlementReceipt) (*Intent, error) {
	next := StatusCompleted
	if !receipt.Success {
		next = StatusFailed
	}

	it, err := s.store.CompareAndSwapStatus(ctx, id, StatusSigned, next, func(it *Intent) {
		it.Receipt = receipt
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, apperrors.IntentNotSigned(string(conflict.Current))
		}
		return nil, fmt.Errorf("failed to settle intent: %w", err)
	}
	if it == nil {
		return nil, apperrors.IntentNotFound(id)
	}

	if s.recorder != nil {
		s.recorder.IntentTransition(string(StatusSigned), string(next))
	}
	logger.Info(ctx, "intent settled", "intent_id", id, "status", it.Status, "transaction", receipt.Transaction)

	return it, nil
}

// ListByUser returns a user's intents, newest first, applying the lazy
// expiry rule to each PENDING record.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Intent, error) {
	items, err := s.store.ListByUser(ctx, strings.ToLower(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}

	now := s.now()
	for i, it := range items {
		if it.Status == StatusPending && now.After(it.ExpiresAt) {
			expired, err := s.Expire(ctx, it.ID)
			if err != nil {
				return nil, err
			}
			items[i] = expired
		}
	}
	return items, nil
}

// SweepExpired CASes overdue PENDING intents to EXPIRED. Returns the number
// of intents transitioned.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListExpired(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired intents: %w", err)
	}

	swept := 0
	for _, id := range ids {
		it, err := s.Expire(ctx, id)
		if err != nil {
			logger.Warn(ctx, "failed to expire intent", "intent_id", id, "error", err)
			continue
		}
		if it.Status == StatusExpired {
			swept++
		}
	}
	return swept, nil
}

func (s *Service) transition(ctx context.Context, id string, expected, next Status, mutate func(*Intent)) (*Intent, error) {
	it, err := s.store.CompareAndSwapStatus(ctx, id, expected, next, mutate)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, apperrors.IntentNotPending(string(conflict.Current))
		}
		return nil, fmt.Errorf("failed to transition intent: %w", err)
	}
	if it == nil {
		return nil, apperrors.IntentNotFound(id)
	}

	if s.recorder != nil {
		s.recorder.IntentTransition(string(expected), string(next))
	}
	logger.Info(ctx, "intent transitioned", "intent_id", id, "from", expected, "to", next)

	return it, nil
}

// selectRequirement picks the first challenge entry whose network and asset
// are both in the supported set.
func (s *Service) selectRequirement(challenge *x402.PaymentChallenge) (*x402.PaymentRequirement, error) {
	for i := range challenge.Accepts {
		req := challenge.Accepts[i]
		if req.Scheme == x402.SchemeExact && req.Matches(s.cfg.SupportedNetworks, s.cfg.SupportedAssets) {
			return &req, nil
		}
	}
	return nil, apperrors.NoAcceptableRequirement(fmt.Sprintf(
		"challenge offered %d requirement(s), none on supported networks %v with assets %v",
		len(challenge.Accepts), s.cfg.SupportedNetworks, s.cfg.SupportedAssets))
}

// validatePayload checks the authorization time bounds and nonce freshness
// before any state transition is attempted.
func (s *Service) validatePayload(ctx context.Context, payload *x402.PaymentPayload) error {
	auth := payload.Payload.Authorization

	now := s.now().Unix()
	if after, err := strconv.ParseInt(auth.ValidAfter, 10, 64); err != nil {
		return apperrors.MalformedPayload(fmt.Sprintf("invalid validAfter: %v", err))
	} else if now < after {
		return apperrors.AuthorizationExpired(fmt.Sprintf("validAfter %d is in the future", after))
	}

	if before, err := strconv.ParseInt(auth.ValidBefore, 10, 64); err != nil {
		return apperrors.MalformedPayload(fmt.Sprintf("invalid validBefore: %v", err))
	} else if now > before {
		return apperrors.AuthorizationExpired(fmt.Sprintf("validBefore %d has passed", before))
	}

	used, err := s.store.NonceUsed(ctx, strings.ToLower(auth.From), auth.Nonce)
	if err != nil {
		return fmt.Errorf("failed to check nonce: %w", err)
	}
	if used {
		return apperrors.NonceReused(auth.From, auth.Nonce)
	}

	return nil
}
