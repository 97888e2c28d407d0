package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/anonchat/match-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	ParticipantID string
	Events        chan Event
	Done          chan struct{}
}

// Broker fans redis pubsub events out to connected SSE clients. Events
// travel through redis so every server instance sees them regardless of
// which one committed the originating transaction.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // participantID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(participantID string) *Client {
	client := &Client{
		ParticipantID: participantID,
		Events:        make(chan Event, 100),
		Done:          make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[participantID] == nil {
		b.clients[participantID] = make(map[*Client]bool)
		go b.subscribeToRedis(participantID)
	}
	b.clients[participantID][client] = true
	clientCount := len(b.clients[participantID])
	b.mu.Unlock()

	log.Info().
		Str("participantId", participantID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.ParticipantID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.ParticipantID)
		}

		log.Info().
			Str("participantId", client.ParticipantID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, participantID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(participantID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(participantID string) {
	channel := redisclient.EventChannel(participantID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("participantId", participantID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(participantID, event)
		}
	}
}

func (b *Broker) broadcast(participantID string, event Event) {
	b.mu.RLock()
	clients := b.clients[participantID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("participantId", participantID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(participantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[participantID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
