package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/database"
	apperrors "github.com/anonchat/match-server-go/internal/errors"
	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/repository"
)

const maxMessageLength = 4000

// RelayService forwards messages between the members of a conversation
// without ever revealing who they are. It only reads conversation
// state; teardown goes through the session manager.
type RelayService struct {
	db           database.TxRunner
	sessions     *SessionManager
	sessionRepo  repository.SessionRepository
	groupRepo    repository.GroupRepository
	participants repository.ParticipantRepository
	notifier     Notifier
}

func NewRelayService(
	db database.TxRunner,
	sessions *SessionManager,
	sessionRepo repository.SessionRepository,
	groupRepo repository.GroupRepository,
	participants repository.ParticipantRepository,
	notifier Notifier,
) *RelayService {
	return &RelayService{
		db:           db,
		sessions:     sessions,
		sessionRepo:  sessionRepo,
		groupRepo:    groupRepo,
		participants: participants,
		notifier:     notifier,
	}
}

// SendMessage relays text to everyone else in the sender's conversation
// and returns the recipient ids. A sender with no conversation gets
// NotChatting. A 1:1 partner that cannot be reached tears the session
// down on behalf of both sides.
func (s *RelayService) SendMessage(ctx context.Context, senderID string, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.MissingRequired("text")
	}
	if len(text) > maxMessageLength {
		return nil, apperrors.InvalidInput("text", fmt.Sprintf("longer than %d characters", maxMessageLength))
	}

	entry, err := s.sessions.Lookup(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.NotChatting()
	}

	var recipients []string
	switch entry.RefKind {
	case model.RefKindSession:
		session, err := s.sessionRepo.FindByID(ctx, entry.RefID)
		if err != nil {
			return nil, err
		}
		if session == nil || session.Ended() {
			return nil, apperrors.NotChatting()
		}
		recipients = []string{session.Peer(senderID)}
	case model.RefKindGroup:
		group, err := s.groupRepo.FindByID(ctx, entry.RefID)
		if err != nil {
			return nil, err
		}
		if group == nil || !group.IsActive {
			return nil, apperrors.NotChatting()
		}
		recipients = group.Others(senderID)
	}

	delivered := 0
	for _, recipient := range recipients {
		if err := s.notifier.Message(ctx, recipient, senderID, text); err != nil {
			log.Warn().Err(err).
				Str("from", senderID).
				Str("to", recipient).
				Msg("message delivery failed")
			continue
		}
		delivered++
	}

	if delivered == 0 {
		// Nobody reachable; end the conversation for both sides rather
		// than letting the sender talk into the void.
		if _, termErr := s.sessions.Terminate(ctx, senderID); termErr != nil {
			log.Error().Err(termErr).
				Str("participantId", senderID).
				Msg("teardown after failed delivery")
		}
		return nil, apperrors.PartnerUnreachable(nil)
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		switch entry.RefKind {
		case model.RefKindSession:
			if err := s.sessionRepo.WithTx(tx).IncrementMessageCount(ctx, entry.RefID); err != nil {
				return err
			}
		case model.RefKindGroup:
			if err := s.groupRepo.WithTx(tx).IncrementMessageCount(ctx, entry.RefID); err != nil {
				return err
			}
		}
		return s.participants.WithTx(tx).IncrementMessageCount(ctx, senderID)
	})
	if err != nil {
		// The message already went out; counters are advisory.
		log.Error().Err(err).Str("participantId", senderID).Msg("failed to bump message counters")
	}

	return recipients, nil
}
