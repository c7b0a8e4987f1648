package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"waingest/internal/constants"
	"waingest/internal/database"
)

// Scheduler prunes the idempotency ledger and stale echo marks on a
// fixed interval, outside the ingestion hot path. Pruning is bounded
// by the retention window so it can never cause a false accept inside
// the sender's active retry window.
type Scheduler struct {
	db            *database.Database
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(db *database.Database, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	return &Scheduler{
		db:            db,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting retention scheduler")

	s.runPrune(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runPrune(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runPrune(ctx context.Context) {
	log := s.logger.WithField("retention_days", s.retentionDays)
	log.Info("Running scheduled retention prune")

	pruned, err := s.db.PruneInboundEvents(ctx, s.retentionDays)
	if err != nil {
		log.WithError(err).Error("Failed to prune inbound events")
	} else {
		log.WithField(LogFieldCount, pruned).Info("Pruned inbound events")
	}

	marks, err := s.db.PruneEchoMarks(ctx, s.retentionDays)
	if err != nil {
		log.WithError(err).Error("Failed to prune echo marks")
	} else if marks > 0 {
		log.WithField(LogFieldCount, marks).Info("Pruned echo marks")
	}
}
