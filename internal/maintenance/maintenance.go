// Package maintenance runs the server's periodic housekeeping jobs on a
// gocron scheduler. Currently the only job purges expired and revoked
// refresh tokens so the table does not grow without bound.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/repositories"
)

// tokenPurgeInterval is how often expired refresh tokens are purged.
const tokenPurgeInterval = time.Hour

// Scheduler owns the background job scheduler and its jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	tokens    repositories.RefreshTokenRepository
	logger    *zap.Logger
}

// New creates the scheduler with all jobs registered but not yet running.
func New(tokens repositories.RefreshTokenRepository, logger *zap.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("maintenance: creating scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: sched,
		tokens:    tokens,
		logger:    logger.Named("maintenance"),
	}

	_, err = sched.NewJob(
		gocron.DurationJob(tokenPurgeInterval),
		gocron.NewTask(s.purgeExpiredTokens),
		gocron.WithName("purge_expired_refresh_tokens"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("maintenance: registering token purge job: %w", err)
	}

	return s, nil
}

// Start begins executing jobs. Non-blocking.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started")
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Warn("scheduler shutdown", zap.Error(err))
	}
}

func (s *Scheduler) purgeExpiredTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("token purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("purged expired refresh tokens", zap.Int64("count", n))
	}
}
