package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/database"
	apperrors "github.com/anonchat/match-server-go/internal/errors"
	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/repository"
)

// JoinResult tells the caller what happened to their search request:
// either they were matched on the spot, or they are now waiting.
type JoinResult struct {
	State   model.ConversationState `json:"state"`
	Session *model.Session          `json:"session,omitempty"`
	Group   *model.GroupSession     `json:"group,omitempty"`
}

// MatchOutcome is the result of a single matching attempt for one
// queued participant. Nil means the participant stays queued.
type MatchOutcome struct {
	Session    *model.Session
	Group      *model.GroupSession
	Backfilled bool
}

// MatchService runs the matching algorithm. It claims queue rows one at
// a time, so two concurrent attempts can never both take the same
// entry; candidates it merely looks at stay unlocked and visible to
// everyone else.
type MatchService struct {
	db        database.TxRunner
	queue     repository.QueueRepository
	groups    repository.GroupRepository
	sessions  *SessionManager
	notifier  Notifier
	lookahead int
	wake      chan struct{}
}

func NewMatchService(
	db database.TxRunner,
	queue repository.QueueRepository,
	groups repository.GroupRepository,
	sessions *SessionManager,
	notifier Notifier,
	lookahead int,
) *MatchService {
	return &MatchService{
		db:        db,
		queue:     queue,
		groups:    groups,
		sessions:  sessions,
		notifier:  notifier,
		lookahead: lookahead,
		wake:      make(chan struct{}, 1),
	}
}

// Wake nudges the rematch loop. Non-blocking; a pending nudge already
// covers any number of additional ones.
func (s *MatchService) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WakeChan is consumed by the rematch loop.
func (s *MatchService) WakeChan() <-chan struct{} {
	return s.wake
}

// JoinSearch puts a participant into the queue and immediately attempts
// a match. Being already queued or already chatting is a normal branch,
// surfaced as the corresponding AppError rather than a failure.
func (s *MatchService) JoinSearch(ctx context.Context, participant *model.Participant, mode model.QueueMode) (*JoinResult, error) {
	if !mode.Valid() {
		return nil, apperrors.InvalidInput("mode", "unknown search mode")
	}

	seek := model.SeekAny
	switch mode {
	case model.QueueModeTargeted:
		if !participant.Gender.Known() || participant.SeekGender == model.SeekAny {
			return nil, apperrors.ProfileIncomplete()
		}
		seek = participant.SeekGender
	case model.QueueModeGroupTargeted:
		if !participant.Gender.Known() {
			return nil, apperrors.ProfileIncomplete()
		}
		seek = model.SeekFor(participant.Gender.Opposite())
	}

	active, err := s.sessions.Lookup(ctx, participant.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.AlreadyInSession()
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		queue := s.queue.WithTx(tx)

		existing, err := queue.Find(ctx, participant.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.AlreadyQueued()
		}

		err = queue.Enqueue(ctx, model.EnqueueParams{
			ParticipantID: participant.ID,
			Mode:          mode,
			Gender:        participant.Gender,
			SeekGender:    seek,
		})
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyQueued()
		}
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		return s.sessions.states.WithTx(tx).Set(ctx, participant.ID, model.StateSearching)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("participantId", participant.ID).
		Str("mode", string(mode)).
		Msg("participant joined search")
	s.Wake()

	outcome, err := s.TryMatch(ctx, participant.ID)
	if err != nil {
		// The entry is committed; the rematch loop will pick it up.
		log.Error().Err(err).
			Str("participantId", participant.ID).
			Msg("immediate match attempt failed")
		return &JoinResult{State: model.StateSearching}, nil
	}
	if outcome == nil {
		return &JoinResult{State: model.StateSearching}, nil
	}
	return &JoinResult{State: model.StateChatting, Session: outcome.Session, Group: outcome.Group}, nil
}

// CancelSearch removes the participant from the queue. Calling it twice
// is a no-op; calling it after a match already committed terminates the
// fresh conversation, honoring the participant's intent to stop.
func (s *MatchService) CancelSearch(ctx context.Context, participantID string) error {
	var cancelled bool
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		deleted, err := s.queue.WithTx(tx).Delete(ctx, participantID)
		if err != nil {
			return err
		}
		cancelled = deleted
		if !deleted {
			return nil
		}
		return s.sessions.states.WithTx(tx).Set(ctx, participantID, model.StateIdle)
	})
	if err != nil {
		return err
	}
	if cancelled {
		log.Info().Str("participantId", participantID).Msg("search cancelled")
		return nil
	}

	active, err := s.sessions.Lookup(ctx, participantID)
	if err != nil {
		return err
	}
	if active != nil {
		// Lost the race against a match commit.
		log.Info().
			Str("participantId", participantID).
			Str("refId", active.RefID).
			Msg("cancel raced a match, terminating the new conversation")
		_, err = s.sessions.Terminate(ctx, participantID)
		return err
	}

	// Nothing to cancel; make sure the presented state agrees.
	return s.sessions.states.Set(ctx, participantID, model.StateIdle)
}

// TryMatch makes one matching attempt for a queued participant. A nil
// outcome with nil error means no compatible candidate right now.
func (s *MatchService) TryMatch(ctx context.Context, participantID string) (*MatchOutcome, error) {
	var outcome *MatchOutcome
	var notify func()

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.queue.WithTx(tx).ClaimByID(ctx, participantID)
		if err != nil {
			return err
		}
		if entry == nil {
			// Claimed by a concurrent matcher, or already gone.
			return nil
		}

		if entry.Mode.IsGroup() {
			outcome, notify, err = s.tryFormGroupTx(ctx, tx, entry)
		} else {
			outcome, notify, err = s.tryPairTx(ctx, tx, entry)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if notify != nil {
		notify()
	}
	return outcome, nil
}

// tryPairTx implements 1:1 selection for a claimed entry. Candidates of
// the wanted gender with no preference of their own come first, so
// strict reciprocal searchers never block casual ones; within each
// class the oldest entry wins. Candidates claimed by someone else mid
// scan are skipped, not removed.
func (s *MatchService) tryPairTx(ctx context.Context, tx *sqlx.Tx, entry *model.QueueEntry) (*MatchOutcome, func(), error) {
	queue := s.queue.WithTx(tx)
	exclude := []string{entry.ParticipantID}

	var candidates []model.QueueEntry
	if entry.SeekGender == model.SeekAny {
		willing, err := queue.PeekWilling(ctx, exclude, entry.Gender, s.lookahead)
		if err != nil {
			return nil, nil, err
		}
		candidates = willing
	} else {
		wanted := model.Gender(entry.SeekGender)
		casual, err := queue.PeekByGender(ctx, exclude, wanted, model.SeekAny, s.lookahead)
		if err != nil {
			return nil, nil, err
		}
		reciprocal, err := queue.PeekByGender(ctx, exclude, wanted, model.SeekFor(entry.Gender), s.lookahead)
		if err != nil {
			return nil, nil, err
		}
		candidates = append(casual, reciprocal...)
	}

	for _, candidate := range candidates {
		if candidate.ParticipantID == entry.ParticipantID {
			continue
		}
		if !entry.SeekGender.Accepts(candidate.Gender) || !candidate.SeekGender.Accepts(entry.Gender) {
			continue
		}

		claimed, err := queue.ClaimByID(ctx, candidate.ParticipantID)
		if err != nil {
			return nil, nil, err
		}
		if claimed == nil {
			// Locked or taken by a concurrent matcher; next candidate.
			continue
		}

		session, err := s.sessions.createPairTx(ctx, tx, claimed.ParticipantID, entry.ParticipantID)
		if err != nil {
			return nil, nil, err
		}

		outcome := &MatchOutcome{Session: session}
		notify := func() {
			s.notifier.Matched(context.WithoutCancel(ctx), []string{session.ParticipantA, session.ParticipantB}, session.ID)
			log.Info().
				Str("sessionId", session.ID).
				Str("participantA", session.ParticipantA).
				Str("participantB", session.ParticipantB).
				Msg("pair matched")
		}
		return outcome, notify, nil
	}

	return nil, nil, nil
}
