package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anonchat/match-server-go/internal/model"
)

type ParticipantRepository interface {
	FindByID(ctx context.Context, id string) (*model.Participant, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Participant, error)
	// Upsert registers a participant, or refreshes the token hash and
	// last_seen_at of an existing one. Profile fields are preserved.
	Upsert(ctx context.Context, params model.UpsertParticipantParams) (*model.Participant, error)
	UpdateProfile(ctx context.Context, id string, gender model.Gender, seek model.SeekGender) error
	SetPremium(ctx context.Context, id string, premium bool) error
	TouchLastSeen(ctx context.Context, id string) error
	IncrementMessageCount(ctx context.Context, id string) error
	IncrementSessionCount(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ParticipantRepository
}

type participantRepo struct {
	db dbtx
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) WithTx(tx *sqlx.Tx) ParticipantRepository {
	return &participantRepo{db: tx}
}

func (r *participantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM participants WHERE id = $1
	`, id)
	return HandleNotFound(&p, err)
}

func (r *participantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM participants WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&p, err)
}

func (r *participantRepo) Upsert(ctx context.Context, params model.UpsertParticipantParams) (*model.Participant, error) {
	var p model.Participant
	err := r.db.GetContext(ctx, &p, `
		INSERT INTO participants (id, token_hash)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, last_seen_at = NOW()
		RETURNING *
	`, params.ID, params.TokenHash)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepo) UpdateProfile(ctx context.Context, id string, gender model.Gender, seek model.SeekGender) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants
		SET gender = $2, seek_gender = $3, last_seen_at = NOW()
		WHERE id = $1
	`, id, gender, seek)
	return err
}

func (r *participantRepo) SetPremium(ctx context.Context, id string, premium bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET premium = $2 WHERE id = $1
	`, id, premium)
	return err
}

func (r *participantRepo) TouchLastSeen(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET last_seen_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (r *participantRepo) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET message_count = message_count + 1 WHERE id = $1
	`, id)
	return err
}

func (r *participantRepo) IncrementSessionCount(ctx context.Context, ids []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET session_count = session_count + 1 WHERE id = ANY($1)
	`, pq.Array(ids))
	return err
}

func (r *participantRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM participants`)
	return count, err
}
