package intent

import (
	"context"
	"fmt"
)

// ConflictError is returned by CompareAndSwapStatus when the stored status
// does not match the expected one. Current carries the status observed at
// swap time.
type ConflictError struct {
	Current Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("status conflict: current status is %s", e.Current)
}

// Store is the durable intent store contract. CompareAndSwapStatus is the
// only mutation path; implementations must serialize conflicting writes per
// intent id (an in-process lock is not enough once intents are shared across
// processes).
type Store interface {
	// Create persists a new intent record.
	Create(ctx context.Context, it *Intent) error

	// Get returns the intent with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id string) (*Intent, error)

	// CompareAndSwapStatus atomically moves the intent from expected to next,
	// applying mutate to the record inside the swap. Returns (nil, nil) for an
	// unknown id and (*ConflictError) when the stored status differs from
	// expected.
	CompareAndSwapStatus(ctx context.Context, id string, expected, next Status, mutate func(*Intent)) (*Intent, error)

	// NonceUsed reports whether an authorization nonce has already been
	// attached to any intent for the given payer address.
	NonceUsed(ctx context.Context, from, nonce string) (bool, error)

	// ListByUser returns intents belonging to a user, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Intent, error)

	// ListExpired returns ids of PENDING intents whose expiresAt has elapsed.
	ListExpired(ctx context.Context, limit int) ([]string, error)
}
