package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/signoff-pay/signoff/pkg/agentauth"
)

// AgentRepository handles the registry of agents allowed to open intents.
type AgentRepository struct {
	store *Store
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(store *Store) *AgentRepository {
	return &AgentRepository{store: store}
}

var _ agentauth.Registry = (*AgentRepository)(nil)

// GetAgent retrieves a registered agent by ID, returning (nil, nil) when the
// agent is unknown.
func (r *AgentRepository) GetAgent(ctx context.Context, id string) (*agentauth.RegisteredAgent, error) {
	query := `
		SELECT id, address, trustchain_id, label
		FROM agents
		WHERE id = $1 AND enabled
	`

	var (
		agent agentauth.RegisteredAgent
		label *string
	)
	err := r.store.pool.QueryRow(ctx, query, id).Scan(
		&agent.ID,
		&agent.Address,
		&agent.TrustchainID,
		&label,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if label != nil {
		agent.Label = *label
	}

	return &agent, nil
}

// CreateAgent registers a new agent.
func (r *AgentRepository) CreateAgent(ctx context.Context, agent *agentauth.RegisteredAgent) error {
	query := `
		INSERT INTO agents (id, address, trustchain_id, label, enabled)
		VALUES ($1, $2, $3, $4, TRUE)
	`

	_, err := r.store.pool.Exec(ctx, query,
		agent.ID,
		agent.Address,
		agent.TrustchainID,
		nullableString(agent.Label),
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	return nil
}
