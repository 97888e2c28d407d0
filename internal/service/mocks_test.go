package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/anonchat/match-server-go/internal/database"
	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/repository"
)

// stubTxRunner runs the function directly; the mocks below ignore the
// transaction handle entirely.
type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockQueueRepo struct {
	mock.Mock
}

func (m *mockQueueRepo) WithTx(tx *sqlx.Tx) repository.QueueRepository { return m }

func (m *mockQueueRepo) Enqueue(ctx context.Context, params model.EnqueueParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockQueueRepo) Delete(ctx context.Context, participantID string) (bool, error) {
	args := m.Called(ctx, participantID)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueueRepo) Find(ctx context.Context, participantID string) (*model.QueueEntry, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) PeekWilling(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, exclude, gender, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) PeekByGender(ctx context.Context, exclude []string, gender model.Gender, seek model.SeekGender, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, exclude, gender, seek, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) PeekGroupSeekers(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, exclude, gender, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) PeekGroupRandom(ctx context.Context, exclude []string, gender model.Gender, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, exclude, gender, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) ClaimByID(ctx context.Context, participantID string) (*model.QueueEntry, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) ListOldest(ctx context.Context, modes []model.QueueMode, limit int) ([]model.QueueEntry, error) {
	args := m.Called(ctx, modes, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QueueEntry), args.Error(1)
}

func (m *mockQueueRepo) PromoteStaleSeekers(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueueRepo) DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockQueueRepo) CountSearching(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockParticipantRepo struct {
	mock.Mock
}

func (m *mockParticipantRepo) WithTx(tx *sqlx.Tx) repository.ParticipantRepository { return m }

func (m *mockParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Participant, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) Upsert(ctx context.Context, params model.UpsertParticipantParams) (*model.Participant, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) UpdateProfile(ctx context.Context, id string, gender model.Gender, seek model.SeekGender) error {
	args := m.Called(ctx, id, gender, seek)
	return args.Error(0)
}

func (m *mockParticipantRepo) SetPremium(ctx context.Context, id string, premium bool) error {
	args := m.Called(ctx, id, premium)
	return args.Error(0)
}

func (m *mockParticipantRepo) TouchLastSeen(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockParticipantRepo) IncrementMessageCount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockParticipantRepo) IncrementSessionCount(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *mockParticipantRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository { return m }

func (m *mockSessionRepo) Create(ctx context.Context, participantA, participantB string) (*model.Session, error) {
	args := m.Called(ctx, participantA, participantB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) End(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) IncrementMessageCount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) CountActive(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockGroupRepo struct {
	mock.Mock
}

func (m *mockGroupRepo) WithTx(tx *sqlx.Tx) repository.GroupRepository { return m }

func (m *mockGroupRepo) Create(ctx context.Context, groupType model.GroupType, participants []string) (*model.GroupSession, error) {
	args := m.Called(ctx, groupType, participants)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupSession), args.Error(1)
}

func (m *mockGroupRepo) FindByID(ctx context.Context, id string) (*model.GroupSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupSession), args.Error(1)
}

func (m *mockGroupRepo) ClaimJoinable(ctx context.Context, fullTypes []model.GroupType, formingType model.GroupType) (*model.GroupSession, error) {
	args := m.Called(ctx, fullTypes, formingType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupSession), args.Error(1)
}

func (m *mockGroupRepo) AddMember(ctx context.Context, id string, participantID string) (*model.GroupSession, error) {
	args := m.Called(ctx, id, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupSession), args.Error(1)
}

func (m *mockGroupRepo) RemoveMember(ctx context.Context, id string, participantID string) (*model.GroupSession, error) {
	args := m.Called(ctx, id, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupSession), args.Error(1)
}

func (m *mockGroupRepo) Close(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockGroupRepo) IncrementMessageCount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockGroupRepo) CountActive(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockActiveIndexRepo struct {
	mock.Mock
}

func (m *mockActiveIndexRepo) WithTx(tx *sqlx.Tx) repository.ActiveIndexRepository { return m }

func (m *mockActiveIndexRepo) Insert(ctx context.Context, entry model.ActiveEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockActiveIndexRepo) Find(ctx context.Context, participantID string) (*model.ActiveEntry, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ActiveEntry), args.Error(1)
}

func (m *mockActiveIndexRepo) Delete(ctx context.Context, participantID string) (bool, error) {
	args := m.Called(ctx, participantID)
	return args.Bool(0), args.Error(1)
}

func (m *mockActiveIndexRepo) DeleteByRef(ctx context.Context, kind model.RefKind, refID string) (int64, error) {
	args := m.Called(ctx, kind, refID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockActiveIndexRepo) ListByRef(ctx context.Context, kind model.RefKind, refID string) ([]model.ActiveEntry, error) {
	args := m.Called(ctx, kind, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ActiveEntry), args.Error(1)
}

func (m *mockActiveIndexRepo) FindDangling(ctx context.Context, limit int) ([]model.ActiveEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ActiveEntry), args.Error(1)
}

func (m *mockActiveIndexRepo) DeleteMany(ctx context.Context, participantIDs []string) (int64, error) {
	args := m.Called(ctx, participantIDs)
	return args.Get(0).(int64), args.Error(1)
}

type mockStateRepo struct {
	mock.Mock
}

func (m *mockStateRepo) WithTx(tx *sqlx.Tx) repository.StateRepository { return m }

func (m *mockStateRepo) Get(ctx context.Context, participantID string) (model.ConversationState, error) {
	args := m.Called(ctx, participantID)
	return args.Get(0).(model.ConversationState), args.Error(1)
}

func (m *mockStateRepo) Set(ctx context.Context, participantID string, state model.ConversationState) error {
	args := m.Called(ctx, participantID, state)
	return args.Error(0)
}

func (m *mockStateRepo) SetAll(ctx context.Context, participantIDs []string, state model.ConversationState) error {
	args := m.Called(ctx, participantIDs, state)
	return args.Error(0)
}

type sentMessage struct {
	To   string
	From string
	Text string
}

// fakeNotifier records notifications instead of publishing them.
type fakeNotifier struct {
	mu           sync.Mutex
	matched      map[string]string // participantID -> sessionID
	groupMatched map[string]string // participantID -> groupID
	memberJoined []string
	memberLeft   []string
	dissolved    []string
	partnerLeft  []string
	messages     []sentMessage
	messageErr   error
	failFor      map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		matched:      make(map[string]string),
		groupMatched: make(map[string]string),
	}
}

func (n *fakeNotifier) Matched(ctx context.Context, participantIDs []string, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range participantIDs {
		n.matched[id] = sessionID
	}
}

func (n *fakeNotifier) GroupMatched(ctx context.Context, participantID string, groupID string, memberCount int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groupMatched[participantID] = groupID
}

func (n *fakeNotifier) GroupMemberJoined(ctx context.Context, participantIDs []string, groupID string, memberCount int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.memberJoined = append(n.memberJoined, participantIDs...)
}

func (n *fakeNotifier) GroupMemberLeft(ctx context.Context, participantIDs []string, groupID string, memberCount int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.memberLeft = append(n.memberLeft, participantIDs...)
}

func (n *fakeNotifier) GroupDissolved(ctx context.Context, participantID string, groupID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dissolved = append(n.dissolved, participantID)
}

func (n *fakeNotifier) PartnerLeft(ctx context.Context, participantID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partnerLeft = append(n.partnerLeft, participantID)
}

func (n *fakeNotifier) Message(ctx context.Context, participantID string, from string, text string) error {
	if n.messageErr != nil || n.failFor[participantID] {
		return errors.New("delivery failed")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sentMessage{To: participantID, From: from, Text: text})
	return nil
}

// testEnv bundles the full mocked dependency graph.
type testEnv struct {
	queue        *mockQueueRepo
	participants *mockParticipantRepo
	sessionRepo  *mockSessionRepo
	groupRepo    *mockGroupRepo
	active       *mockActiveIndexRepo
	states       *mockStateRepo
	notifier     *fakeNotifier
	sessions     *SessionManager
	matcher      *MatchService
	relay        *RelayService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		queue:        new(mockQueueRepo),
		participants: new(mockParticipantRepo),
		sessionRepo:  new(mockSessionRepo),
		groupRepo:    new(mockGroupRepo),
		active:       new(mockActiveIndexRepo),
		states:       new(mockStateRepo),
		notifier:     newFakeNotifier(),
	}
	env.sessions = NewSessionManager(
		stubTxRunner{}, env.sessionRepo, env.groupRepo, env.active,
		env.states, env.queue, env.participants, env.notifier,
	)
	env.matcher = NewMatchService(
		stubTxRunner{}, env.queue, env.groupRepo, env.sessions, env.notifier, 50,
	)
	env.relay = NewRelayService(
		stubTxRunner{}, env.sessions, env.sessionRepo, env.groupRepo,
		env.participants, env.notifier,
	)
	return env
}
