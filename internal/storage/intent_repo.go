package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/signoff-pay/signoff/internal/intent"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
	"github.com/signoff-pay/signoff/pkg/x402"
)

const uniqueViolation = "23505"

// IntentRepository persists intents in Postgres. Status transitions use a
// guarded UPDATE so that concurrent writers race on the database row, not on
// in-process state.
type IntentRepository struct {
	store *Store
}

// NewIntentRepository creates a new intent repository
func NewIntentRepository(store *Store) *IntentRepository {
	return &IntentRepository{store: store}
}

var _ intent.Store = (*IntentRepository)(nil)

const intentColumns = `
	id, user_id, trustchain_id, status, resource,
	chosen_requirement, payload, receipt, reject_reason,
	created_at, updated_at, expires_at
`

// Create persists a new intent record.
func (r *IntentRepository) Create(ctx context.Context, it *intent.Intent) error {
	requirement, payload, receipt, err := marshalIntentDocs(it)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO intents (
			id, user_id, trustchain_id, status, resource,
			chosen_requirement, payload, receipt, reject_reason,
			created_at, updated_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err = r.store.pool.Exec(ctx, query,
		it.ID,
		it.UserID,
		nullableString(it.TrustchainID),
		string(it.Status),
		it.Resource,
		requirement,
		payload,
		receipt,
		nullableString(it.RejectReason),
		it.CreatedAt,
		it.UpdatedAt,
		it.ExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create intent: %w", err)
	}

	return nil
}

// Get retrieves an intent by ID, returning (nil, nil) when absent.
func (r *IntentRepository) Get(ctx context.Context, id string) (*intent.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = $1`

	it, err := scanIntent(r.store.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}

	return it, nil
}

// CompareAndSwapStatus loads the row under a lock, verifies the expected
// status, applies mutate and writes the result back in one transaction. The
// payment nonce is claimed in the same transaction so that two SIGNED intents
// can never carry the same (payer, nonce) pair.
func (r *IntentRepository) CompareAndSwapStatus(ctx context.Context, id string, expected, next intent.Status, mutate func(*intent.Intent)) (*intent.Intent, error) {
	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = $1 FOR UPDATE`

	it, err := scanIntent(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock intent: %w", err)
	}

	if it.Status != expected {
		return nil, &intent.ConflictError{Current: it.Status}
	}

	it.Status = next
	if mutate != nil {
		mutate(it)
	}
	it.UpdatedAt = time.Now().UTC()

	_, payload, receipt, err := marshalIntentDocs(it)
	if err != nil {
		return nil, err
	}

	update := `
		UPDATE intents
		SET status = $2, payload = $3, receipt = $4, reject_reason = $5, updated_at = $6
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, update,
		it.ID,
		string(it.Status),
		payload,
		receipt,
		nullableString(it.RejectReason),
		it.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to update intent: %w", err)
	}

	if it.Payload != nil {
		auth := it.Payload.Payload.Authorization
		if err := r.claimNonce(ctx, tx, it.ID, auth.From, auth.Nonce); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit intent update: %w", err)
	}

	return it, nil
}

func (r *IntentRepository) claimNonce(ctx context.Context, tx pgx.Tx, intentID, from, nonce string) error {
	query := `
		INSERT INTO payment_nonces (payer_address, nonce, intent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (payer_address, nonce) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query, strings.ToLower(from), nonce, intentID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.NonceReused(from, nonce)
		}
		return fmt.Errorf("failed to claim nonce: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Row already exists; tolerate re-claiming by the same intent.
		var owner string
		err := tx.QueryRow(ctx,
			`SELECT intent_id FROM payment_nonces WHERE payer_address = $1 AND nonce = $2`,
			strings.ToLower(from), nonce,
		).Scan(&owner)
		if err != nil {
			return fmt.Errorf("failed to check nonce owner: %w", err)
		}
		if owner != intentID {
			return apperrors.NonceReused(from, nonce)
		}
	}

	return nil
}

// NonceUsed reports whether an authorization nonce has already been claimed
// for the given payer address.
func (r *IntentRepository) NonceUsed(ctx context.Context, from, nonce string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM payment_nonces WHERE payer_address = $1 AND nonce = $2)`

	var used bool
	if err := r.store.pool.QueryRow(ctx, query, strings.ToLower(from), nonce).Scan(&used); err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}

	return used, nil
}

// ListByUser retrieves intents for a user, newest first.
func (r *IntentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*intent.Intent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + intentColumns + `
		FROM intents
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.store.pool.Query(ctx, query, strings.ToLower(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []*intent.Intent
	for rows.Next() {
		it, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, it)
	}

	return intents, rows.Err()
}

// ListExpired returns ids of PENDING intents whose deadline has elapsed.
func (r *IntentRepository) ListExpired(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id FROM intents
		WHERE status = $1 AND expires_at <= NOW()
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := r.store.pool.Query(ctx, query, string(intent.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired intents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan intent id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func marshalIntentDocs(it *intent.Intent) (requirement, payload, receipt []byte, err error) {
	requirement, err = json.Marshal(it.ChosenRequirement)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal requirement: %w", err)
	}

	if it.Payload != nil {
		payload, err = json.Marshal(it.Payload)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	if it.Receipt != nil {
		receipt, err = json.Marshal(it.Receipt)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal receipt: %w", err)
		}
	}

	return requirement, payload, receipt, nil
}

func scanIntent(row pgx.Row) (*intent.Intent, error) {
	var (
		it           intent.Intent
		status       string
		trustchainID *string
		rejectReason *string
		requirement  []byte
		payload      []byte
		receipt      []byte
	)

	if err := row.Scan(
		&it.ID,
		&it.UserID,
		&trustchainID,
		&status,
		&it.Resource,
		&requirement,
		&payload,
		&receipt,
		&rejectReason,
		&it.CreatedAt,
		&it.UpdatedAt,
		&it.ExpiresAt,
	); err != nil {
		return nil, err
	}

	it.Status = intent.Status(status)
	if trustchainID != nil {
		it.TrustchainID = *trustchainID
	}
	if rejectReason != nil {
		it.RejectReason = *rejectReason
	}

	if err := json.Unmarshal(requirement, &it.ChosenRequirement); err != nil {
		return nil, fmt.Errorf("failed to decode requirement: %w", err)
	}
	if len(payload) > 0 {
		it.Payload = &x402.PaymentPayload{}
		if err := json.Unmarshal(payload, it.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	if len(receipt) > 0 {
		it.Receipt = &x402.SettlementReceipt{}
		if err := json.Unmarshal(receipt, it.Receipt); err != nil {
			return nil, fmt.Errorf("failed to decode receipt: %w", err)
		}
	}

	return &it, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
