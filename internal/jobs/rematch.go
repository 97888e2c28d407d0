package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/repository"
	"github.com/anonchat/match-server-go/internal/service"
)

// RematchJob retries matching for queued participants. It is primarily
// event-driven: enqueues and departures nudge it through the match
// service's wake channel, with a coarse ticker behind it so nobody is
// stranded when a nudge gets lost across restarts.
type RematchJob struct {
	matcher     *service.MatchService
	queueRepo   repository.QueueRepository
	interval    time.Duration
	fallbackTTL time.Duration
	batchSize   int
	done        chan struct{}
}

func NewRematchJob(
	matcher *service.MatchService,
	queueRepo repository.QueueRepository,
	interval time.Duration,
	fallbackTTL time.Duration,
	batchSize int,
) *RematchJob {
	return &RematchJob{
		matcher:     matcher,
		queueRepo:   queueRepo,
		interval:    interval,
		fallbackTTL: fallbackTTL,
		batchSize:   batchSize,
		done:        make(chan struct{}),
	}
}

func (j *RematchJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("rematch job started")
}

func (j *RematchJob) Stop() {
	close(j.done)
	log.Info().Msg("rematch job stopped")
}

func (j *RematchJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-j.matcher.WakeChan():
			j.pass()
		case <-ticker.C:
			j.pass()
		}
	}
}

// pass promotes starved strict seekers into the random pool, then
// attempts one match per queued entry, oldest first. Individual
// failures are logged and skipped so one poisoned entry cannot stall
// the rest of the queue.
func (j *RematchJob) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.fallbackTTL > 0 {
		cutoff := time.Now().Add(-j.fallbackTTL)
		promoted, err := j.queueRepo.PromoteStaleSeekers(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("failed to promote stale seekers")
		} else if promoted > 0 {
			log.Info().Int64("count", promoted).Msg("promoted stale seekers to random pool")
		}
	}

	modes := []model.QueueMode{
		model.QueueModeRandom,
		model.QueueModeTargeted,
		model.QueueModeGroupRandom,
		model.QueueModeGroupTargeted,
	}
	entries, err := j.queueRepo.ListOldest(ctx, modes, j.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list queue entries")
		return
	}

	for _, entry := range entries {
		if _, err := j.matcher.TryMatch(ctx, entry.ParticipantID); err != nil {
			log.Error().Err(err).
				Str("participantId", entry.ParticipantID).
				Msg("rematch attempt failed")
		}
	}
}
