package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anonchat/match-server-go/internal/model"
)

func TestTerminateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("ends the session and tells the partner", func(t *testing.T) {
		env := newTestEnv()
		session := &model.Session{ID: "s-1", ParticipantA: "P", ParticipantB: "Q"}

		env.active.On("Find", mock.Anything, "P").
			Return(&model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindSession, RefID: "s-1"}, nil)
		env.sessionRepo.On("FindByID", mock.Anything, "s-1").Return(session, nil)
		env.sessionRepo.On("End", mock.Anything, "s-1").Return(true, nil)
		env.active.On("DeleteByRef", mock.Anything, model.RefKindSession, "s-1").Return(int64(2), nil)
		env.states.On("SetAll", mock.Anything, []string{"P", "Q"}, model.StateIdle).Return(nil)
		env.participants.On("IncrementSessionCount", mock.Anything, []string{"P", "Q"}).Return(nil)

		result, err := env.sessions.Terminate(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, []string{"Q"}, result.Others)
		assert.False(t, result.WasGroup)
		assert.Equal(t, []string{"Q"}, env.notifier.partnerLeft)
		env.participants.AssertExpectations(t)
	})

	t.Run("suppresses the second notification when both sides leave", func(t *testing.T) {
		env := newTestEnv()
		session := &model.Session{ID: "s-1", ParticipantA: "P", ParticipantB: "Q"}

		env.active.On("Find", mock.Anything, "Q").
			Return(&model.ActiveEntry{ParticipantID: "Q", RefKind: model.RefKindSession, RefID: "s-1"}, nil)
		env.sessionRepo.On("FindByID", mock.Anything, "s-1").Return(session, nil)
		// The other side's End already won.
		env.sessionRepo.On("End", mock.Anything, "s-1").Return(false, nil)
		env.active.On("DeleteByRef", mock.Anything, model.RefKindSession, "s-1").Return(int64(0), nil)
		env.states.On("SetAll", mock.Anything, []string{"P", "Q"}, model.StateIdle).Return(nil)

		result, err := env.sessions.Terminate(ctx, "Q")
		require.NoError(t, err)
		assert.Equal(t, []string{"P"}, result.Others)
		assert.Empty(t, env.notifier.partnerLeft)
		env.participants.AssertNotCalled(t, "IncrementSessionCount", mock.Anything, mock.Anything)
	})

	t.Run("tolerates a participant with no conversation", func(t *testing.T) {
		env := newTestEnv()
		env.active.On("Find", mock.Anything, "P").Return(nil, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)

		result, err := env.sessions.Terminate(ctx, "P")
		require.NoError(t, err)
		assert.Empty(t, result.Others)
		assert.Empty(t, env.notifier.partnerLeft)
	})

	t.Run("invokes the terminate hook", func(t *testing.T) {
		env := newTestEnv()
		woken := false
		env.sessions.OnTerminate(func() { woken = true })

		env.active.On("Find", mock.Anything, "P").Return(nil, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)

		_, err := env.sessions.Terminate(ctx, "P")
		require.NoError(t, err)
		assert.True(t, woken)
	})
}

func TestTerminateGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("leaving a group of three notifies the rest", func(t *testing.T) {
		env := newTestEnv()
		remaining := &model.GroupSession{
			ID: "g-1", GroupType: model.GroupTypeRandom,
			Participants: []string{"Q", "R"}, IsActive: true,
		}

		env.active.On("Find", mock.Anything, "P").
			Return(&model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindGroup, RefID: "g-1"}, nil)
		env.groupRepo.On("RemoveMember", mock.Anything, "g-1", "P").Return(remaining, nil)
		env.active.On("Delete", mock.Anything, "P").Return(true, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)
		env.participants.On("IncrementSessionCount", mock.Anything, []string{"P"}).Return(nil)

		result, err := env.sessions.Terminate(ctx, "P")
		require.NoError(t, err)
		assert.True(t, result.WasGroup)
		assert.Equal(t, []string{"Q", "R"}, result.Others)
		assert.ElementsMatch(t, []string{"Q", "R"}, env.notifier.memberLeft)
		assert.Empty(t, env.notifier.dissolved)
		env.groupRepo.AssertNotCalled(t, "Close", mock.Anything, mock.Anything)
	})

	t.Run("leaving a group of two dissolves it", func(t *testing.T) {
		env := newTestEnv()
		remaining := &model.GroupSession{
			ID: "g-1", GroupType: model.GroupTypeRandom,
			Participants: []string{"Q"}, IsActive: true,
		}

		env.active.On("Find", mock.Anything, "P").
			Return(&model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindGroup, RefID: "g-1"}, nil)
		env.groupRepo.On("RemoveMember", mock.Anything, "g-1", "P").Return(remaining, nil)
		env.active.On("Delete", mock.Anything, "P").Return(true, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)
		env.groupRepo.On("Close", mock.Anything, "g-1").Return(true, nil)
		env.active.On("DeleteByRef", mock.Anything, model.RefKindGroup, "g-1").Return(int64(1), nil)
		env.states.On("SetAll", mock.Anything, []string{"Q"}, model.StateIdle).Return(nil)
		env.participants.On("IncrementSessionCount", mock.Anything, []string{"Q", "P"}).Return(nil)

		result, err := env.sessions.Terminate(ctx, "P")
		require.NoError(t, err)
		assert.True(t, result.WasGroup)
		assert.Equal(t, []string{"Q"}, result.Others)
		assert.Equal(t, []string{"Q"}, env.notifier.dissolved)
		assert.Empty(t, env.notifier.memberLeft)
	})

	t.Run("tolerates a group that already closed", func(t *testing.T) {
		env := newTestEnv()

		env.active.On("Find", mock.Anything, "P").
			Return(&model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindGroup, RefID: "g-1"}, nil)
		env.groupRepo.On("RemoveMember", mock.Anything, "g-1", "P").Return(nil, nil)
		env.active.On("Delete", mock.Anything, "P").Return(true, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)

		result, err := env.sessions.Terminate(ctx, "P")
		require.NoError(t, err)
		assert.True(t, result.WasGroup)
		assert.Empty(t, result.Others)
	})
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("returns a live session entry", func(t *testing.T) {
		env := newTestEnv()
		entry := &model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindSession, RefID: "s-1"}

		env.active.On("Find", mock.Anything, "P").Return(entry, nil)
		env.sessionRepo.On("FindByID", mock.Anything, "s-1").
			Return(&model.Session{ID: "s-1", ParticipantA: "P", ParticipantB: "Q"}, nil)

		got, err := env.sessions.Lookup(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, entry, got)
	})

	t.Run("repairs an entry whose session already ended", func(t *testing.T) {
		env := newTestEnv()
		entry := &model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindSession, RefID: "s-1"}

		env.active.On("Find", mock.Anything, "P").Return(entry, nil)
		env.sessionRepo.On("FindByID", mock.Anything, "s-1").Return(nil, nil)
		env.active.On("Delete", mock.Anything, "P").Return(true, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)

		got, err := env.sessions.Lookup(ctx, "P")
		require.NoError(t, err)
		assert.Nil(t, got)
		env.active.AssertCalled(t, "Delete", mock.Anything, "P")
	})

	t.Run("repairs an entry whose group went inactive", func(t *testing.T) {
		env := newTestEnv()
		entry := &model.ActiveEntry{ParticipantID: "P", RefKind: model.RefKindGroup, RefID: "g-1"}

		env.active.On("Find", mock.Anything, "P").Return(entry, nil)
		env.groupRepo.On("FindByID", mock.Anything, "g-1").
			Return(&model.GroupSession{ID: "g-1", IsActive: false}, nil)
		env.active.On("Delete", mock.Anything, "P").Return(true, nil)
		env.states.On("Set", mock.Anything, "P", model.StateIdle).Return(nil)

		got, err := env.sessions.Lookup(ctx, "P")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("reads nothing as nothing", func(t *testing.T) {
		env := newTestEnv()
		env.active.On("Find", mock.Anything, "P").Return(nil, nil)

		got, err := env.sessions.Lookup(ctx, "P")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRepairDangling(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv()
	env.active.On("FindDangling", mock.Anything, 100).Return([]model.ActiveEntry{
		{ParticipantID: "P", RefKind: model.RefKindSession, RefID: "s-1"},
		{ParticipantID: "Q", RefKind: model.RefKindGroup, RefID: "g-1"},
	}, nil)
	env.active.On("Delete", mock.Anything, mock.Anything).Return(true, nil)
	env.states.On("Set", mock.Anything, mock.Anything, model.StateIdle).Return(nil)

	repaired, err := env.sessions.RepairDangling(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	env.active.AssertCalled(t, "Delete", mock.Anything, "P")
	env.active.AssertCalled(t, "Delete", mock.Anything, "Q")
}
