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

// TerminateResult reports who else was in the conversation that ended,
// so callers can decide what to relay back to their own client.
type TerminateResult struct {
	Others   []string
	WasGroup bool
}

// SessionManager is the only component that mutates sessions, group
// sessions and the active index. Everything else calls through it, so
// the mirror invariant between the tables and the index is enforced in
// one place.
type SessionManager struct {
	db           database.TxRunner
	sessions     repository.SessionRepository
	groups       repository.GroupRepository
	active       repository.ActiveIndexRepository
	states       repository.StateRepository
	queue        repository.QueueRepository
	participants repository.ParticipantRepository
	notifier     Notifier
	onTerminate  func()
}

func NewSessionManager(
	db database.TxRunner,
	sessions repository.SessionRepository,
	groups repository.GroupRepository,
	active repository.ActiveIndexRepository,
	states repository.StateRepository,
	queue repository.QueueRepository,
	participants repository.ParticipantRepository,
	notifier Notifier,
) *SessionManager {
	return &SessionManager{
		db:           db,
		sessions:     sessions,
		groups:       groups,
		active:       active,
		states:       states,
		queue:        queue,
		participants: participants,
		notifier:     notifier,
	}
}

// OnTerminate registers a callback invoked after a conversation ends.
// Departures free backfill slots, so the rematch loop wants a nudge.
func (m *SessionManager) OnTerminate(fn func()) {
	m.onTerminate = fn
}

// indexInsert adds an active-index entry and translates a primary-key
// collision into a loud failure: a participant already indexed while
// being placed into a new conversation is a concurrency bug, never a
// condition to retry quietly.
func (m *SessionManager) indexInsert(ctx context.Context, active repository.ActiveIndexRepository, entry model.ActiveEntry) error {
	err := active.Insert(ctx, entry)
	if err == nil {
		return nil
	}
	if database.IsUniqueViolation(err) {
		log.Error().
			Str("participantId", entry.ParticipantID).
			Str("refKind", string(entry.RefKind)).
			Str("refId", entry.RefID).
			Msg("participant already in another conversation while being matched")
		return apperrors.Wrap(apperrors.ErrCodeInternal, "participant already in another conversation", err)
	}
	return err
}

// createPairTx removes both queue entries and creates the session, the
// two index entries and the chatting states, all on the caller's
// transaction.
func (m *SessionManager) createPairTx(ctx context.Context, tx *sqlx.Tx, a, b string) (*model.Session, error) {
	queue := m.queue.WithTx(tx)
	active := m.active.WithTx(tx)

	for _, id := range []string{a, b} {
		if _, err := queue.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", id, err)
		}
	}

	session, err := m.sessions.WithTx(tx).Create(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for _, id := range []string{a, b} {
		entry := model.ActiveEntry{ParticipantID: id, RefKind: model.RefKindSession, RefID: session.ID}
		if err := m.indexInsert(ctx, active, entry); err != nil {
			return nil, err
		}
	}

	if err := m.states.WithTx(tx).SetAll(ctx, []string{a, b}, model.StateChatting); err != nil {
		return nil, fmt.Errorf("set states: %w", err)
	}

	return session, nil
}

// createGroupTx forms a new group from queued participants on the
// caller's transaction.
func (m *SessionManager) createGroupTx(ctx context.Context, tx *sqlx.Tx, groupType model.GroupType, memberIDs []string) (*model.GroupSession, error) {
	queue := m.queue.WithTx(tx)
	active := m.active.WithTx(tx)

	for _, id := range memberIDs {
		if _, err := queue.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", id, err)
		}
	}

	group, err := m.groups.WithTx(tx).Create(ctx, groupType, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	for _, id := range memberIDs {
		entry := model.ActiveEntry{ParticipantID: id, RefKind: model.RefKindGroup, RefID: group.ID}
		if err := m.indexInsert(ctx, active, entry); err != nil {
			return nil, err
		}
	}

	if err := m.states.WithTx(tx).SetAll(ctx, memberIDs, model.StateChatting); err != nil {
		return nil, fmt.Errorf("set states: %w", err)
	}

	return group, nil
}

// extendGroupTx backfills one queued participant into an existing group
// the caller has already locked. A nil group result means the group
// filled up or closed between the lock and the append.
func (m *SessionManager) extendGroupTx(ctx context.Context, tx *sqlx.Tx, groupID string, joinerID string) (*model.GroupSession, error) {
	group, err := m.groups.WithTx(tx).AddMember(ctx, groupID, joinerID)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	if group == nil {
		return nil, nil
	}

	if _, err := m.queue.WithTx(tx).Delete(ctx, joinerID); err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", joinerID, err)
	}

	entry := model.ActiveEntry{ParticipantID: joinerID, RefKind: model.RefKindGroup, RefID: group.ID}
	if err := m.indexInsert(ctx, m.active.WithTx(tx), entry); err != nil {
		return nil, err
	}

	if err := m.states.WithTx(tx).Set(ctx, joinerID, model.StateChatting); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return group, nil
}

// Lookup resolves the conversation a participant is in. A dangling
// index entry (its session already ended, or missing outright) is
// repaired on the spot and reads as "not in a conversation".
func (m *SessionManager) Lookup(ctx context.Context, participantID string) (*model.ActiveEntry, error) {
	entry, err := m.active.Find(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	live, err := m.refLive(ctx, entry)
	if err != nil {
		return nil, err
	}
	if live {
		return entry, nil
	}

	log.Warn().
		Str("participantId", participantID).
		Str("refKind", string(entry.RefKind)).
		Str("refId", entry.RefID).
		Msg("repairing dangling active-index entry")

	if err := m.repair(ctx, participantID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *SessionManager) refLive(ctx context.Context, entry *model.ActiveEntry) (bool, error) {
	switch entry.RefKind {
	case model.RefKindSession:
		session, err := m.sessions.FindByID(ctx, entry.RefID)
		if err != nil {
			return false, err
		}
		return session != nil && !session.Ended(), nil
	case model.RefKindGroup:
		group, err := m.groups.FindByID(ctx, entry.RefID)
		if err != nil {
			return false, err
		}
		return group != nil && group.IsActive, nil
	default:
		return false, nil
	}
}

func (m *SessionManager) repair(ctx context.Context, participantID string) error {
	return m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := m.active.WithTx(tx).Delete(ctx, participantID); err != nil {
			return err
		}
		return m.states.WithTx(tx).Set(ctx, participantID, model.StateIdle)
	})
}

// Terminate ends whatever conversation the participant is in. It is
// deliberately tolerant: a participant with no conversation gets an
// empty result, not an error, because disconnect races are routine.
func (m *SessionManager) Terminate(ctx context.Context, participantID string) (*TerminateResult, error) {
	result := &TerminateResult{}
	var notify func()

	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		active := m.active.WithTx(tx)
		states := m.states.WithTx(tx)

		entry, err := active.Find(ctx, participantID)
		if err != nil {
			return err
		}
		if entry == nil {
			return states.Set(ctx, participantID, model.StateIdle)
		}

		switch entry.RefKind {
		case model.RefKindSession:
			notify, err = m.terminateSessionTx(ctx, tx, participantID, entry.RefID, result)
			return err
		case model.RefKindGroup:
			notify, err = m.terminateGroupTx(ctx, tx, participantID, entry.RefID, result)
			return err
		default:
			if _, err := active.Delete(ctx, participantID); err != nil {
				return err
			}
			return states.Set(ctx, participantID, model.StateIdle)
		}
	})
	if err != nil {
		return nil, err
	}

	if notify != nil {
		notify()
	}
	if m.onTerminate != nil {
		m.onTerminate()
	}
	return result, nil
}

func (m *SessionManager) terminateSessionTx(ctx context.Context, tx *sqlx.Tx, participantID, sessionID string, result *TerminateResult) (func(), error) {
	sessions := m.sessions.WithTx(tx)

	session, err := sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		// Dangling reference, clean up just this participant.
		if _, err := m.active.WithTx(tx).Delete(ctx, participantID); err != nil {
			return nil, err
		}
		return nil, m.states.WithTx(tx).Set(ctx, participantID, model.StateIdle)
	}

	ended, err := sessions.End(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	both := []string{session.ParticipantA, session.ParticipantB}
	if _, err := m.active.WithTx(tx).DeleteByRef(ctx, model.RefKindSession, sessionID); err != nil {
		return nil, err
	}
	if err := m.states.WithTx(tx).SetAll(ctx, both, model.StateIdle); err != nil {
		return nil, err
	}

	peer := session.Peer(participantID)
	if peer != "" {
		result.Others = []string{peer}
	}

	if !ended {
		// Already terminated by the other side; no second notification.
		return nil, nil
	}

	if err := m.participants.WithTx(tx).IncrementSessionCount(ctx, both); err != nil {
		return nil, err
	}

	notifyPeer := peer
	return func() {
		if notifyPeer != "" {
			m.notifier.PartnerLeft(context.WithoutCancel(ctx), notifyPeer)
		}
		log.Info().
			Str("sessionId", sessionID).
			Str("endedBy", participantID).
			Msg("session terminated")
	}, nil
}

func (m *SessionManager) terminateGroupTx(ctx context.Context, tx *sqlx.Tx, participantID, groupID string, result *TerminateResult) (func(), error) {
	groups := m.groups.WithTx(tx)
	active := m.active.WithTx(tx)
	states := m.states.WithTx(tx)

	result.WasGroup = true

	group, err := groups.RemoveMember(ctx, groupID, participantID)
	if err != nil {
		return nil, err
	}

	if _, err := active.Delete(ctx, participantID); err != nil {
		return nil, err
	}
	if err := states.Set(ctx, participantID, model.StateIdle); err != nil {
		return nil, err
	}

	if group == nil {
		// Group already closed; nothing left to notify.
		return nil, nil
	}

	remaining := append([]string(nil), group.Participants...)
	result.Others = remaining

	if group.Size() <= 1 {
		if _, err := groups.Close(ctx, groupID); err != nil {
			return nil, err
		}
		if _, err := active.DeleteByRef(ctx, model.RefKindGroup, groupID); err != nil {
			return nil, err
		}
		if err := states.SetAll(ctx, remaining, model.StateIdle); err != nil {
			return nil, err
		}
		all := append(append([]string(nil), remaining...), participantID)
		if err := m.participants.WithTx(tx).IncrementSessionCount(ctx, all); err != nil {
			return nil, err
		}

		return func() {
			for _, id := range remaining {
				m.notifier.GroupDissolved(context.WithoutCancel(ctx), id, groupID)
			}
			log.Info().
				Str("groupId", groupID).
				Str("endedBy", participantID).
				Msg("group dissolved")
		}, nil
	}

	if err := m.participants.WithTx(tx).IncrementSessionCount(ctx, []string{participantID}); err != nil {
		return nil, err
	}

	size := group.Size()
	return func() {
		m.notifier.GroupMemberLeft(context.WithoutCancel(ctx), remaining, groupID, size)
		log.Info().
			Str("groupId", groupID).
			Str("leftBy", participantID).
			Int("remaining", size).
			Msg("group member left")
	}, nil
}

// RepairDangling scans for index entries pointing at dead conversations
// and resets those participants to idle. Used by the maintenance sweep.
func (m *SessionManager) RepairDangling(ctx context.Context, limit int) (int, error) {
	entries, err := m.active.FindDangling(ctx, limit)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, entry := range entries {
		if err := m.repair(ctx, entry.ParticipantID); err != nil {
			log.Error().Err(err).
				Str("participantId", entry.ParticipantID).
				Msg("failed to repair dangling index entry")
			continue
		}
		repaired++
	}
	return repaired, nil
}
