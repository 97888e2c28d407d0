package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anonchat/match-server-go/internal/config"
	"github.com/anonchat/match-server-go/internal/model"
)

type GroupRepository interface {
	Create(ctx context.Context, groupType model.GroupType, participants []string) (*model.GroupSession, error)
	FindByID(ctx context.Context, id string) (*model.GroupSession, error)
	// ClaimJoinable locks the oldest active group the caller can join:
	// either a group of one of fullTypes with a free slot, or a
	// still-forming single-member group of formingType (fellow seekers
	// banding together while they wait). Pass formingType "" to skip
	// that branch. A nil result means no such group, or every candidate
	// is locked by a concurrent backfill.
	ClaimJoinable(ctx context.Context, fullTypes []model.GroupType, formingType model.GroupType) (*model.GroupSession, error)
	AddMember(ctx context.Context, id string, participantID string) (*model.GroupSession, error)
	RemoveMember(ctx context.Context, id string, participantID string) (*model.GroupSession, error)
	// Close deactivates the group. Reports false when it was already closed.
	Close(ctx context.Context, id string) (bool, error)
	IncrementMessageCount(ctx context.Context, id string) error
	CountActive(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) GroupRepository
}

type groupRepo struct {
	db dbtx
}

func NewGroupRepository(db *sqlx.DB) GroupRepository {
	return &groupRepo{db: db}
}

func (r *groupRepo) WithTx(tx *sqlx.Tx) GroupRepository {
	return &groupRepo{db: tx}
}

func (r *groupRepo) Create(ctx context.Context, groupType model.GroupType, participants []string) (*model.GroupSession, error) {
	var group model.GroupSession
	err := r.db.GetContext(ctx, &group, `
		INSERT INTO group_sessions (group_type, participants)
		VALUES ($1, $2)
		RETURNING *
	`, groupType, pq.Array(participants))
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepo) FindByID(ctx context.Context, id string) (*model.GroupSession, error) {
	var group model.GroupSession
	err := r.db.GetContext(ctx, &group, `
		SELECT * FROM group_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) ClaimJoinable(ctx context.Context, fullTypes []model.GroupType, formingType model.GroupType) (*model.GroupSession, error) {
	typeStrs := make([]string, len(fullTypes))
	for i, t := range fullTypes {
		typeStrs[i] = string(t)
	}
	var group model.GroupSession
	err := r.db.GetContext(ctx, &group, `
		SELECT * FROM group_sessions
		WHERE is_active = TRUE
		AND (
			(group_type = ANY($1) AND cardinality(participants) < $2)
			OR (group_type = $3 AND $3 <> '' AND cardinality(participants) < 2)
		)
		ORDER BY started_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, pq.Array(typeStrs), config.MaxGroupSize, formingType)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) AddMember(ctx context.Context, id string, participantID string) (*model.GroupSession, error) {
	var group model.GroupSession
	err := r.db.GetContext(ctx, &group, `
		UPDATE group_sessions
		SET participants = array_append(participants, $2)
		WHERE id = $1 AND is_active = TRUE AND NOT ($2 = ANY(participants))
		RETURNING *
	`, id, participantID)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) RemoveMember(ctx context.Context, id string, participantID string) (*model.GroupSession, error) {
	var group model.GroupSession
	err := r.db.GetContext(ctx, &group, `
		UPDATE group_sessions
		SET participants = array_remove(participants, $2)
		WHERE id = $1 AND is_active = TRUE
		RETURNING *
	`, id, participantID)
	return HandleNotFound(&group, err)
}

func (r *groupRepo) Close(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE group_sessions
		SET is_active = FALSE, ended_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *groupRepo) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE group_sessions SET message_count = message_count + 1 WHERE id = $1
	`, id)
	return err
}

func (r *groupRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM group_sessions WHERE is_active = TRUE
	`)
	return count, err
}
