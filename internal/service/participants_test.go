package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/anonchat/match-server-go/internal/errors"
	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/util"
)

func newParticipantService(env *testEnv) *ParticipantService {
	return NewParticipantService(
		env.participants, env.queue, env.sessionRepo, env.groupRepo, env.states,
	)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the token hash, never the token", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		var storedHash string
		env.participants.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertParticipantParams) bool {
			return p.ID == "user:42" && p.TokenHash != ""
		})).Run(func(args mock.Arguments) {
			storedHash = args.Get(1).(model.UpsertParticipantParams).TokenHash
		}).Return(&model.Participant{ID: "user:42"}, nil)

		participant, token, err := svc.Register(ctx, "user:42")
		require.NoError(t, err)
		assert.Equal(t, "user:42", participant.ID)
		assert.Len(t, token, 64)
		assert.NotEqual(t, token, storedHash)
		assert.Equal(t, util.HashToken(token), storedHash)
	})

	t.Run("rejects a malformed id", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		_, _, err := svc.Register(ctx, "spaces are bad")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		env.participants.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves a valid token", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)
		token := "deadbeef"

		env.participants.On("FindByTokenHash", mock.Anything, util.HashToken(token)).
			Return(&model.Participant{ID: "user:42"}, nil)

		participant, err := svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user:42", participant.ID)
	})

	t.Run("rejects an unknown token", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		env.participants.On("FindByTokenHash", mock.Anything, mock.Anything).Return(nil, nil)

		_, err := svc.Authenticate(ctx, "bogus")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		_, err := svc.Authenticate(ctx, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
	})
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("persists gender and preference", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		env.participants.On("UpdateProfile", mock.Anything, "user:42", model.GenderFemale, model.SeekMale).
			Return(nil)
		env.participants.On("FindByID", mock.Anything, "user:42").
			Return(&model.Participant{ID: "user:42", Gender: model.GenderFemale, SeekGender: model.SeekMale}, nil)

		participant, err := svc.UpdateProfile(ctx, "user:42", model.GenderFemale, model.SeekMale)
		require.NoError(t, err)
		assert.Equal(t, model.GenderFemale, participant.Gender)
		assert.Equal(t, model.SeekMale, participant.SeekGender)
	})

	t.Run("rejects an unset gender", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		_, err := svc.UpdateProfile(ctx, "user:42", model.GenderUnknown, model.SeekAny)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("rejects a bogus preference", func(t *testing.T) {
		env := newTestEnv()
		svc := newParticipantService(env)

		_, err := svc.UpdateProfile(ctx, "user:42", model.GenderMale, model.SeekGender("robots"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		env.participants.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestStats(t *testing.T) {
	env := newTestEnv()
	svc := newParticipantService(env)

	env.participants.On("Count", mock.Anything).Return(120, nil)
	env.queue.On("CountSearching", mock.Anything).Return(7, nil)
	env.sessionRepo.On("CountActive", mock.Anything).Return(14, nil)
	env.groupRepo.On("CountActive", mock.Anything).Return(3, nil)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &model.SystemStats{
		TotalParticipants: 120,
		Searching:         7,
		ActiveSessions:    14,
		ActiveGroups:      3,
	}, stats)
}
