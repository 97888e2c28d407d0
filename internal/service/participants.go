package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/anonchat/match-server-go/internal/errors"
	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/repository"
	"github.com/anonchat/match-server-go/internal/util"
)

// ParticipantService handles registration, profiles and the aggregate
// stats screen.
type ParticipantService struct {
	participants repository.ParticipantRepository
	queue        repository.QueueRepository
	sessionRepo  repository.SessionRepository
	groupRepo    repository.GroupRepository
	states       repository.StateRepository
}

func NewParticipantService(
	participants repository.ParticipantRepository,
	queue repository.QueueRepository,
	sessionRepo repository.SessionRepository,
	groupRepo repository.GroupRepository,
	states repository.StateRepository,
) *ParticipantService {
	return &ParticipantService{
		participants: participants,
		queue:        queue,
		sessionRepo:  sessionRepo,
		groupRepo:    groupRepo,
		states:       states,
	}
}

// Register creates or re-keys a participant and returns the bearer
// token the client authenticates with from then on. Only the hash is
// stored; re-registering invalidates the previous token.
func (s *ParticipantService) Register(ctx context.Context, id string) (*model.Participant, string, error) {
	if !util.IsValidParticipantID(id) {
		return nil, "", apperrors.InvalidInput("id", "must be 1-64 characters of A-Za-z0-9:_-")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	participant, err := s.participants.Upsert(ctx, model.UpsertParticipantParams{
		ID:        id,
		TokenHash: util.HashToken(token),
	})
	if err != nil {
		return nil, "", fmt.Errorf("upsert participant: %w", err)
	}

	log.Info().Str("participantId", id).Msg("participant registered")
	return participant, token, nil
}

// Authenticate resolves a bearer token to its participant.
func (s *ParticipantService) Authenticate(ctx context.Context, token string) (*model.Participant, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing token")
	}
	participant, err := s.participants.FindByTokenHash(ctx, util.HashToken(token))
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, apperrors.InvalidToken("unknown token")
	}
	return participant, nil
}

func (s *ParticipantService) UpdateProfile(ctx context.Context, participantID string, gender model.Gender, seek model.SeekGender) (*model.Participant, error) {
	if !gender.Known() {
		return nil, apperrors.InvalidInput("gender", "must be male or female")
	}
	switch seek {
	case model.SeekAny, model.SeekMale, model.SeekFemale:
	default:
		return nil, apperrors.InvalidInput("seekGender", "must be any, male or female")
	}

	if err := s.participants.UpdateProfile(ctx, participantID, gender, seek); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.participants.FindByID(ctx, participantID)
}

// State returns the participant's presented conversation state.
func (s *ParticipantService) State(ctx context.Context, participantID string) (model.ConversationState, error) {
	return s.states.Get(ctx, participantID)
}

func (s *ParticipantService) Stats(ctx context.Context) (*model.SystemStats, error) {
	total, err := s.participants.Count(ctx)
	if err != nil {
		return nil, err
	}
	searching, err := s.queue.CountSearching(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessionRepo.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.groupRepo.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	return &model.SystemStats{
		TotalParticipants: total,
		Searching:         searching,
		ActiveSessions:    sessions,
		ActiveGroups:      groups,
	}, nil
}
