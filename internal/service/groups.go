package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/config"
	"github.com/anonchat/match-server-go/internal/model"
)

// Group formation for a claimed group-mode queue entry.
//
// Priority order: fill an existing group before creating one. A strict
// seeker backfills groups whose target is their gender, or bands with a
// lone fellow seeker still waiting for a target; a random entry
// backfills random groups and typed groups that accept their gender.
// Only when nothing can be filled is a new group formed, and never with
// fewer than two members: lone participants stay in the queue, where
// the fallback promotion eventually widens their search.
func (s *MatchService) tryFormGroupTx(ctx context.Context, tx *sqlx.Tx, entry *model.QueueEntry) (*MatchOutcome, func(), error) {
	var fullTypes []model.GroupType
	var formingType model.GroupType

	if entry.Mode == model.QueueModeGroupTargeted {
		fullTypes = []model.GroupType{model.SeekerTypeFor(entry.Gender.Opposite())}
		formingType = model.SeekerTypeFor(entry.Gender)
	} else {
		fullTypes = []model.GroupType{model.GroupTypeRandom}
		if entry.Gender.Known() {
			fullTypes = append(fullTypes, model.SeekerTypeFor(entry.Gender.Opposite()))
		}
	}

	locked, err := s.groups.WithTx(tx).ClaimJoinable(ctx, fullTypes, formingType)
	if err != nil {
		return nil, nil, err
	}
	if locked != nil {
		group, err := s.sessions.extendGroupTx(ctx, tx, locked.ID, entry.ParticipantID)
		if err != nil {
			return nil, nil, err
		}
		if group != nil {
			joiner := entry.ParticipantID
			others := group.Others(joiner)
			size := group.Size()
			outcome := &MatchOutcome{Group: group, Backfilled: true}
			notify := func() {
				s.notifier.GroupMatched(context.WithoutCancel(ctx), joiner, group.ID, size)
				s.notifier.GroupMemberJoined(context.WithoutCancel(ctx), others, group.ID, size)
				log.Info().
					Str("groupId", group.ID).
					Str("participantId", joiner).
					Int("members", size).
					Msg("group backfilled")
			}
			return outcome, notify, nil
		}
	}

	if entry.Mode == model.QueueModeGroupTargeted {
		return s.formSeekerGroupTx(ctx, tx, entry)
	}
	return s.formRandomGroupTx(ctx, tx, entry)
}

// formSeekerGroupTx starts a new typed group around a strict seeker:
// the seeker plus up to two queued candidates of the wanted gender,
// drawn from the opposite seeker queue first, then from the random
// pool. With no candidate at all, a lone fellow seeker will do; the
// two wait together for backfill.
func (s *MatchService) formSeekerGroupTx(ctx context.Context, tx *sqlx.Tx, entry *model.QueueEntry) (*MatchOutcome, func(), error) {
	queue := s.queue.WithTx(tx)
	wanted := entry.Gender.Opposite()
	exclude := []string{entry.ParticipantID}

	seekers, err := queue.PeekGroupSeekers(ctx, exclude, wanted, s.lookahead)
	if err != nil {
		return nil, nil, err
	}
	pool, err := queue.PeekGroupRandom(ctx, exclude, wanted, s.lookahead)
	if err != nil {
		return nil, nil, err
	}

	members := []string{entry.ParticipantID}
	for _, candidate := range append(seekers, pool...) {
		if len(members) >= config.MaxGroupSize {
			break
		}
		claimed, err := queue.ClaimByID(ctx, candidate.ParticipantID)
		if err != nil {
			return nil, nil, err
		}
		if claimed == nil {
			continue
		}
		members = append(members, claimed.ParticipantID)
	}

	if len(members) < 2 {
		fellows, err := queue.PeekGroupSeekers(ctx, exclude, entry.Gender, s.lookahead)
		if err != nil {
			return nil, nil, err
		}
		for _, fellow := range fellows {
			claimed, err := queue.ClaimByID(ctx, fellow.ParticipantID)
			if err != nil {
				return nil, nil, err
			}
			if claimed != nil {
				members = append(members, claimed.ParticipantID)
				break
			}
		}
	}

	if len(members) < 2 {
		return nil, nil, nil
	}

	return s.createGroupOutcomeTx(ctx, tx, model.SeekerTypeFor(entry.Gender), members)
}

// formRandomGroupTx groups random-pool entries in arrival order once at
// least two are present.
func (s *MatchService) formRandomGroupTx(ctx context.Context, tx *sqlx.Tx, entry *model.QueueEntry) (*MatchOutcome, func(), error) {
	queue := s.queue.WithTx(tx)
	exclude := []string{entry.ParticipantID}

	pool, err := queue.PeekGroupRandom(ctx, exclude, model.GenderUnknown, s.lookahead)
	if err != nil {
		return nil, nil, err
	}

	members := []string{entry.ParticipantID}
	for _, candidate := range pool {
		if len(members) >= config.MaxGroupSize {
			break
		}
		claimed, err := queue.ClaimByID(ctx, candidate.ParticipantID)
		if err != nil {
			return nil, nil, err
		}
		if claimed == nil {
			continue
		}
		members = append(members, claimed.ParticipantID)
	}

	if len(members) < 2 {
		return nil, nil, nil
	}

	return s.createGroupOutcomeTx(ctx, tx, model.GroupTypeRandom, members)
}

func (s *MatchService) createGroupOutcomeTx(ctx context.Context, tx *sqlx.Tx, groupType model.GroupType, members []string) (*MatchOutcome, func(), error) {
	group, err := s.sessions.createGroupTx(ctx, tx, groupType, members)
	if err != nil {
		return nil, nil, err
	}

	outcome := &MatchOutcome{Group: group}
	notify := func() {
		size := group.Size()
		for _, id := range group.Participants {
			s.notifier.GroupMatched(context.WithoutCancel(ctx), id, group.ID, size)
		}
		log.Info().
			Str("groupId", group.ID).
			Str("groupType", string(groupType)).
			Int("members", size).
			Msg("group formed")
	}
	return outcome, notify, nil
}
