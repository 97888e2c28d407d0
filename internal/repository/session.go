package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/anonchat/match-server-go/internal/model"
)

type SessionRepository interface {
	Create(ctx context.Context, participantA, participantB string) (*model.Session, error)
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// End marks the session terminated. It reports false when the
	// session was already ended, so callers can treat a second
	// termination as a no-op instead of double-counting.
	End(ctx context.Context, id string) (bool, error)
	IncrementMessageCount(ctx context.Context, id string) error
	CountActive(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db dbtx
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) Create(ctx context.Context, participantA, participantB string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (participant_a, participant_b)
		VALUES ($1, $2)
		RETURNING *
	`, participantA, participantB)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) End(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = NOW()
		WHERE id = $1 AND ended_at IS NULL
	`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *sessionRepo) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1 WHERE id = $1
	`, id)
	return err
}

func (r *sessionRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL
	`)
	return count, err
}
