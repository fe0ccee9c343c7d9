// Package scheduler drives the daily maintenance cycle: refresh price
// data, then apply every rebalance that has come due.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/usecase/rebalance"
)

// PriceRefresher tops up price series before rebalances run. Optional:
// deployments fed solely through the add-tokens endpoint run without one.
type PriceRefresher interface {
	RefreshLatest(ctx context.Context, assets []domain.Asset, lastDate func(coinID string) (time.Time, error)) error
}

// priceStore is the slice of the price store the refresh needs
type priceStore interface {
	Assets() []domain.Asset
	LastDate(coinID string) (time.Time, error)
}

// Scheduler manages the daily cron task
type Scheduler struct {
	Cron       *cron.Cron
	Indexes    domain.IndexSource
	Rebalancer *rebalance.Service
	Prices     priceStore
	Refresher  PriceRefresher
	Logger     *logrus.Logger
	Ctx        context.Context
}

// NewScheduler creates a new Scheduler
func NewScheduler(ctx context.Context, indexes domain.IndexSource, reb *rebalance.Service, prices priceStore, refresher PriceRefresher, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		Cron:       cron.New(),
		Indexes:    indexes,
		Rebalancer: reb,
		Prices:     prices,
		Refresher:  refresher,
		Logger:     logger,
		Ctx:        ctx,
	}
}

// Register registers the daily task with a standard 5-field cron spec
func (s *Scheduler) Register(dailyCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, s.dailyTask); err != nil {
		return fmt.Errorf("register daily task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop stops the cron scheduler gracefully
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	s.Logger.Info("scheduler stopped")
}

// RunDailyNow executes the daily task immediately (manual trigger / run
// on start)
func (s *Scheduler) RunDailyNow() {
	s.dailyTask()
}

func (s *Scheduler) dailyTask() {
	s.Logger.Info("running daily maintenance")

	if s.Refresher != nil {
		if err := s.Refresher.RefreshLatest(s.Ctx, s.Prices.Assets(), s.Prices.LastDate); err != nil {
			s.Logger.WithError(err).Error("price refresh failed")
			// rebalances still run: LOCF covers gaps, and unpriceable
			// dates are skipped and retried tomorrow
		}
	}

	today := domain.Day(time.Now().UTC())
	for _, ix := range s.Indexes.List() {
		applied, err := s.Rebalancer.RunDue(s.Ctx, ix.ID, today)
		if err != nil {
			s.Logger.WithError(err).WithField("index_id", ix.ID).Error("rebalance catch-up failed")
			continue
		}
		if applied > 0 {
			s.Logger.WithFields(logrus.Fields{"index_id": ix.ID, "applied": applied}).
				Info("applied due rebalances")
		}
	}
}
