package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anonchat/match-server-go/internal/model"
)

// QueueRepository is the queue store: one row per waiting participant,
// FIFO by joined_at. Peek methods return candidates without locking;
// ClaimByID takes the row lock (FOR UPDATE SKIP LOCKED) on the single
// entry a matching attempt has chosen, so skipped candidates stay
// visible to concurrent matchers.
type QueueRepository interface {
	Enqueue(ctx context.Context, params model.EnqueueParams) error
	Delete(ctx context.Context, participantID string) (bool, error)
	Find(ctx context.Context, participantID string) (*model.QueueEntry, error)
	// PeekWilling returns the oldest 1:1 entries willing to talk to a
	// participant of the given gender (their preference is any or equals it).
	PeekWilling(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error)
	// PeekByGender returns the oldest 1:1 entries of a specific gender
	// with exactly the given preference.
	PeekByGender(ctx context.Context, exclude []string, gender model.Gender, seek model.SeekGender, limit int) ([]model.QueueEntry, error)
	// PeekGroupSeekers returns group_targeted entries of the given gender.
	PeekGroupSeekers(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error)
	// PeekGroupRandom returns group_random entries, optionally filtered by gender.
	PeekGroupRandom(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error)
	// ClaimByID locks a single queue row. A nil result means a
	// concurrent matcher already claimed or removed it.
	ClaimByID(ctx context.Context, participantID string) (*model.QueueEntry, error)
	// ListOldest feeds the background rematch pass.
	ListOldest(ctx context.Context, modes []model.QueueMode, limit int) ([]model.QueueEntry, error)
	// PromoteStaleSeekers moves group seekers older than the cutoff to
	// the random pool so nobody waits forever for a strict match.
	PromoteStaleSeekers(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteStale purges abandoned entries and returns the affected
	// participant ids so their states can be reset.
	DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error)
	CountSearching(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) QueueRepository
}

type queueRepo struct {
	db dbtx
}

func NewQueueRepository(db *sqlx.DB) QueueRepository {
	return &queueRepo{db: db}
}

func (r *queueRepo) WithTx(tx *sqlx.Tx) QueueRepository {
	return &queueRepo{db: tx}
}

func (r *queueRepo) Enqueue(ctx context.Context, params model.EnqueueParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO search_queue (participant_id, mode, gender, seek_gender)
		VALUES ($1, $2, $3, $4)
	`, params.ParticipantID, params.Mode, params.Gender, params.SeekGender)
	return err
}

func (r *queueRepo) Delete(ctx context.Context, participantID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM search_queue WHERE participant_id = $1
	`, participantID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *queueRepo) Find(ctx context.Context, participantID string) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, `
		SELECT * FROM search_queue WHERE participant_id = $1
	`, participantID)
	return HandleNotFound(&entry, err)
}

func (r *queueRepo) PeekWilling(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM search_queue
		WHERE mode IN ('random', 'targeted')
		AND NOT (participant_id = ANY($1))
		AND (seek_gender = 'any' OR seek_gender = $2)
		ORDER BY joined_at
		LIMIT $3
	`, pq.Array(exclude), gender, limit)
	return entries, err
}

func (r *queueRepo) PeekByGender(ctx context.Context, exclude []string, gender model.Gender, seek model.SeekGender, limit int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM search_queue
		WHERE mode IN ('random', 'targeted')
		AND NOT (participant_id = ANY($1))
		AND gender = $2
		AND seek_gender = $3
		ORDER BY joined_at
		LIMIT $4
	`, pq.Array(exclude), gender, seek, limit)
	return entries, err
}

func (r *queueRepo) PeekGroupSeekers(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM search_queue
		WHERE mode = 'group_targeted'
		AND NOT (participant_id = ANY($1))
		AND gender = $2
		ORDER BY joined_at
		LIMIT $3
	`, pq.Array(exclude), gender, limit)
	return entries, err
}

func (r *queueRepo) PeekGroupRandom(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM search_queue
		WHERE mode = 'group_random'
		AND NOT (participant_id = ANY($1))
		AND ($2 = 'unknown' OR gender = $2)
		ORDER BY joined_at
		LIMIT $3
	`, pq.Array(exclude), gender, limit)
	return entries, err
}

func (r *queueRepo) ClaimByID(ctx context.Context, participantID string) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, `
		SELECT * FROM search_queue
		WHERE participant_id = $1
		FOR UPDATE SKIP LOCKED
	`, participantID)
	return HandleNotFound(&entry, err)
}

func (r *queueRepo) ListOldest(ctx context.Context, modes []model.QueueMode, limit int) ([]model.QueueEntry, error) {
	modeStrs := make([]string, len(modes))
	for i, m := range modes {
		modeStrs[i] = string(m)
	}
	var entries []model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM search_queue
		WHERE mode = ANY($1)
		ORDER BY joined_at
		LIMIT $2
	`, pq.Array(modeStrs), limit)
	return entries, err
}

func (r *queueRepo) PromoteStaleSeekers(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE search_queue
		SET mode = 'group_random'
		WHERE mode = 'group_targeted' AND joined_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *queueRepo) DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		DELETE FROM search_queue WHERE joined_at < $1
		RETURNING participant_id
	`, cutoff)
	return ids, err
}

func (r *queueRepo) CountSearching(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM search_queue`)
	return count, err
}
