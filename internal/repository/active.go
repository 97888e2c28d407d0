package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anonchat/match-server-go/internal/model"
)

// ActiveIndexRepository maps each participant to at most one live
// conversation. The primary key on participant_id is what enforces the
// one-conversation rule; inserts that violate it surface as a unique
// violation the caller must treat as a hard bug, not a retryable race.
type ActiveIndexRepository interface {
	Insert(ctx context.Context, entry model.ActiveEntry) error
	Find(ctx context.Context, participantID string) (*model.ActiveEntry, error)
	Delete(ctx context.Context, participantID string) (bool, error)
	DeleteByRef(ctx context.Context, kind model.RefKind, refID string) (int64, error)
	ListByRef(ctx context.Context, kind model.RefKind, refID string) ([]model.ActiveEntry, error)
	// FindDangling returns index entries whose referenced session or
	// group has already ended, for lazy repair.
	FindDangling(ctx context.Context, limit int) ([]model.ActiveEntry, error)
	DeleteMany(ctx context.Context, participantIDs []string) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ActiveIndexRepository
}

type activeIndexRepo struct {
	db dbtx
}

func NewActiveIndexRepository(db *sqlx.DB) ActiveIndexRepository {
	return &activeIndexRepo{db: db}
}

func (r *activeIndexRepo) WithTx(tx *sqlx.Tx) ActiveIndexRepository {
	return &activeIndexRepo{db: tx}
}

func (r *activeIndexRepo) Insert(ctx context.Context, entry model.ActiveEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_index (participant_id, ref_kind, ref_id)
		VALUES ($1, $2, $3)
	`, entry.ParticipantID, entry.RefKind, entry.RefID)
	return err
}

func (r *activeIndexRepo) Find(ctx context.Context, participantID string) (*model.ActiveEntry, error) {
	var entry model.ActiveEntry
	err := r.db.GetContext(ctx, &entry, `
		SELECT * FROM active_index WHERE participant_id = $1
	`, participantID)
	return HandleNotFound(&entry, err)
}

func (r *activeIndexRepo) Delete(ctx context.Context, participantID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM active_index WHERE participant_id = $1
	`, participantID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *activeIndexRepo) DeleteByRef(ctx context.Context, kind model.RefKind, refID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM active_index WHERE ref_kind = $1 AND ref_id = $2
	`, kind, refID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *activeIndexRepo) ListByRef(ctx context.Context, kind model.RefKind, refID string) ([]model.ActiveEntry, error) {
	var entries []model.ActiveEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM active_index WHERE ref_kind = $1 AND ref_id = $2
	`, kind, refID)
	return entries, err
}

func (r *activeIndexRepo) FindDangling(ctx context.Context, limit int) ([]model.ActiveEntry, error) {
	var entries []model.ActiveEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT ai.* FROM active_index ai
		LEFT JOIN sessions s ON ai.ref_kind = 'session' AND ai.ref_id = s.id AND s.ended_at IS NULL
		LEFT JOIN group_sessions g ON ai.ref_kind = 'group' AND ai.ref_id = g.id AND g.is_active = TRUE
		WHERE s.id IS NULL AND g.id IS NULL
		LIMIT $1
	`, limit)
	return entries, err
}

func (r *activeIndexRepo) DeleteMany(ctx context.Context, participantIDs []string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM active_index WHERE participant_id = ANY($1)
	`, pq.Array(participantIDs))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
