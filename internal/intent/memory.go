package intent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// MemoryStore is a mutex-guarded in-process Store. Suitable for tests and
// for embedding the service in a single process; cross-process deployments
// use the Postgres adapter.
type MemoryStore struct {
	mu      sync.Mutex
	intents map[string]*Intent
	// nonce key -> owning intent id, the in-memory analogue of the
	// payment_nonces primary key
	nonces map[string]string
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*Intent),
		nonces:  make(map[string]string),
		now:     time.Now,
	}
}

// Create persists a new intent record.
func (m *MemoryStore) Create(ctx context.Context, it *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intents[it.ID] = it.Clone()
	return nil
}

// Get returns the intent with the given id, or (nil, nil) if absent.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.intents[id].Clone(), nil
}

// CompareAndSwapStatus atomically transitions the intent while holding the
// store lock, enforcing the at-most-once rule for concurrent callers.
func (m *MemoryStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next Status, mutate func(*Intent)) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.intents[id]
	if !ok {
		return nil, nil
	}
	if it.Status != expected {
		return nil, &ConflictError{Current: it.Status}
	}

	updated := it.Clone()
	updated.Status = next
	if mutate != nil {
		mutate(updated)
	}
	updated.UpdatedAt = m.now().UTC()

	// Claim the nonce under the same lock as the status swap so two
	// concurrent transitions carrying one nonce cannot both commit. A
	// re-claim by the owning intent (e.g. settlement) passes through.
	if updated.Payload != nil {
		auth := updated.Payload.Payload.Authorization
		key := nonceKey(auth.From, auth.Nonce)
		if owner, claimed := m.nonces[key]; claimed && owner != id {
			return nil, apperrors.NonceReused(auth.From, auth.Nonce)
		}
		m.nonces[key] = id
	}

	m.intents[id] = updated
	return updated.Clone(), nil
}

// NonceUsed reports whether the nonce was attached to a prior intent.
func (m *MemoryStore) NonceUsed(ctx context.Context, from, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, used := m.nonces[nonceKey(from, nonce)]
	return used, nil
}

// ListByUser returns a user's intents, newest first.
func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Intent
	for _, it := range m.intents {
		if it.UserID == userID {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpired returns ids of overdue PENDING intents.
func (m *MemoryStore) ListExpired(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []string
	for id, it := range m.intents {
		if it.Status == StatusPending && now.After(it.ExpiresAt) {
			out = append(out, id)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func nonceKey(from, nonce string) string {
	return strings.ToLower(from) + "\x00" + nonce
}
