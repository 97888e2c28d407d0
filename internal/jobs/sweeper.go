package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/repository"
	"github.com/anonchat/match-server-go/internal/service"
)

const repairBatchSize = 100

// SweeperJob is the best-effort maintenance sweep: it purges abandoned
// queue entries past the retention window and repairs active-index
// entries whose conversation is already gone. It never blocks live
// matching; everything it does is also safe to skip for a cycle.
type SweeperJob struct {
	queueRepo repository.QueueRepository
	stateRepo repository.StateRepository
	sessions  *service.SessionManager
	interval  time.Duration
	queueTTL  time.Duration
	done      chan struct{}
}

func NewSweeperJob(
	queueRepo repository.QueueRepository,
	stateRepo repository.StateRepository,
	sessions *service.SessionManager,
	interval time.Duration,
	queueTTL time.Duration,
) *SweeperJob {
	return &SweeperJob{
		queueRepo: queueRepo,
		stateRepo: stateRepo,
		sessions:  sessions,
		interval:  interval,
		queueTTL:  queueTTL,
		done:      make(chan struct{}),
	}
}

func (j *SweeperJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("sweeper job started")
}

func (j *SweeperJob) Stop() {
	close(j.done)
	log.Info().Msg("sweeper job stopped")
}

func (j *SweeperJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweeperJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.queueTTL)
	purged, err := j.queueRepo.DeleteStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to purge stale queue entries")
	} else if len(purged) > 0 {
		if err := j.stateRepo.SetAll(ctx, purged, model.StateIdle); err != nil {
			log.Error().Err(err).Msg("failed to reset states of purged entries")
		}
		log.Info().Int("count", len(purged)).Msg("purged stale queue entries")
	}

	repaired, err := j.sessions.RepairDangling(ctx, repairBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to scan for dangling index entries")
	} else if repaired > 0 {
		log.Info().Int("count", repaired).Msg("repaired dangling index entries")
	}
}
