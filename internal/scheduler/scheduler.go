// Package scheduler fills pipeline gaps. Stages normally trigger their
// successors, but crashes, restarts and newly imported assets leave targets
// with no scan record for a stage they are due for. The scheduler sweeps for
// those on a fixed interval and dispatches them.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"reconpipe/internal/chain"
	"reconpipe/internal/dao"
	"reconpipe/internal/models"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"
)

// Dispatcher is the slice of the coordinator the scheduler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage string, target models.TargetRef, params map[string]string) (*models.ScanRecord, error)
}

type Scheduler struct {
	subdomains dao.SubdomainDAO
	ips        dao.IPDAO
	urls       dao.URLDAO
	dispatcher Dispatcher
	log        *logger.Logger

	interval  time.Duration
	batchSize int
}

func NewScheduler(subdomains dao.SubdomainDAO, ips dao.IPDAO, urls dao.URLDAO, dispatcher Dispatcher, log *logger.Logger, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		subdomains: subdomains,
		ips:        ips,
		urls:       urls,
		dispatcher: dispatcher,
		log:        log,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. The first
// sweep happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sweep := func() error { return s.Sweep(ctx) }
	_ = s.log.LogStageExecution("gap_sweep", sweep)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.log.LogStageExecution("gap_sweep", sweep)
		}
	}
}

// Sweep runs one pass over every gap query. A query failure ends the pass
// early; dispatch failures skip the one target.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if err := s.sweepResolution(ctx); err != nil {
		return fmt.Errorf("resolution gap query: %w", err)
	}
	if err := s.sweepClassification(ctx); err != nil {
		return fmt.Errorf("classification gap query: %w", err)
	}
	if err := s.sweepPortScans(ctx); err != nil {
		return fmt.Errorf("port scan gap query: %w", err)
	}
	if err := s.sweepFetches(ctx); err != nil {
		return fmt.Errorf("fetch gap query: %w", err)
	}
	return nil
}

func (s *Scheduler) sweepResolution(ctx context.Context) error {
	seedIDs, err := s.subdomains.SeedsWithoutScan(chain.StageResolution, s.batchSize, false)
	if err != nil {
		return err
	}
	for _, id := range seedIDs {
		s.dispatch(ctx, chain.StageResolution, models.TargetRef{Kind: models.KindSeed, ID: id})
	}
	return nil
}

func (s *Scheduler) sweepClassification(ctx context.Context) error {
	seedIDs, err := s.subdomains.SeedsWithoutScan(chain.StageClassification, s.batchSize, true)
	if err != nil {
		return err
	}
	for _, id := range seedIDs {
		s.dispatch(ctx, chain.StageClassification, models.TargetRef{Kind: models.KindSeed, ID: id})
	}
	return nil
}

func (s *Scheduler) sweepPortScans(ctx context.Context) error {
	ips, err := s.ips.WithoutScan(chain.StagePortScan, s.batchSize)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		ref := models.TargetRef{Kind: models.KindIP, ID: ip.ID}
		s.dispatch(ctx, chain.StagePortScan, ref)
	}
	return nil
}

func (s *Scheduler) sweepFetches(ctx context.Context) error {
	urls, err := s.urls.PendingFetch(s.batchSize)
	if err != nil {
		return err
	}
	for _, u := range urls {
		ref := models.TargetRef{Kind: models.KindURL, ID: u.ID}
		s.dispatch(ctx, chain.StageFetch, ref)
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, stage string, target models.TargetRef) {
	_, err := s.dispatcher.Dispatch(ctx, stage, target, nil)
	if err == nil {
		return
	}

	var dup *errors.DuplicateActiveScanError
	if stderrors.As(err, &dup) {
		// Already in flight, the whole point of the gap query guard.
		return
	}
	s.log.WithTarget(string(target.Kind), fmt.Sprintf("%d", target.ID)).WithError(err).Error("Gap dispatch failed")
}
