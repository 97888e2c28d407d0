package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anonchat/match-server-go/internal/model"
)

// StateRepository persists the presented conversation state of each
// participant. A missing row reads as idle.
type StateRepository interface {
	Get(ctx context.Context, participantID string) (model.ConversationState, error)
	Set(ctx context.Context, participantID string, state model.ConversationState) error
	SetAll(ctx context.Context, participantIDs []string, state model.ConversationState) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) StateRepository
}

type stateRepo struct {
	db dbtx
}

func NewStateRepository(db *sqlx.DB) StateRepository {
	return &stateRepo{db: db}
}

func (r *stateRepo) WithTx(tx *sqlx.Tx) StateRepository {
	return &stateRepo{db: tx}
}

func (r *stateRepo) Get(ctx context.Context, participantID string) (model.ConversationState, error) {
	var row struct {
		State model.ConversationState `db:"state"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT state FROM conversation_states WHERE participant_id = $1
	`, participantID)
	found, err := HandleNotFound(&row, err)
	if err != nil {
		return model.StateIdle, err
	}
	if found == nil {
		return model.StateIdle, nil
	}
	return found.State, nil
}

func (r *stateRepo) Set(ctx context.Context, participantID string, state model.ConversationState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_states (participant_id, state)
		VALUES ($1, $2)
		ON CONFLICT (participant_id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = NOW()
	`, participantID, state)
	return err
}

func (r *stateRepo) SetAll(ctx context.Context, participantIDs []string, state model.ConversationState) error {
	if len(participantIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_states (participant_id, state)
		SELECT unnest($1::text[]), $2
		ON CONFLICT (participant_id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = NOW()
	`, pq.Array(participantIDs), state)
	return err
}
