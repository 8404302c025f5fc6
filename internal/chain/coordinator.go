// Package chain dispatches pipeline stages as independent units of work and
// owns the scan-record state machine around each execution.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reconpipe/internal/dao"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
	"reconpipe/pkg/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Stage names. A stage name doubles as the tool name on its scan records.
const (
	StageDiscovery      = "discovery"
	StageResolution     = "resolution"
	StageClassification = "classification"
	StageURLDiscovery   = "url_discovery"
	StageFetch          = "fetch"
	StageAnalysis       = "analysis"
	StagePortScan       = "port_scan"
	StageVulnScan       = "vuln_scan"
)

// StageResult is what a handler reports back onto its scan record.
type StageResult struct {
	ItemsFound int
	RawOutput  string
}

// HandlerFunc executes one stage for one task. Handlers must be idempotent:
// the queue delivers at-least-once.
type HandlerFunc func(ctx context.Context, task queue.Task) (*StageResult, error)

// FailureNotifier receives scans that reach FAILED.
type FailureNotifier interface {
	NotifyScanFailure(scan *models.ScanRecord)
}

type Coordinator struct {
	queue        queue.Queue
	scans        dao.ScanDAO
	log          *logger.Logger
	workers      int
	stageTimeout time.Duration
	notifier     FailureNotifier

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewCoordinator(q queue.Queue, scans dao.ScanDAO, log *logger.Logger, workers int, stageTimeout time.Duration) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		queue:        q,
		scans:        scans,
		log:          log,
		workers:      workers,
		stageTimeout: stageTimeout,
		handlers:     make(map[string]HandlerFunc),
	}
}

// SetNotifier attaches the alert sink for terminally failed scans.
func (c *Coordinator) SetNotifier(n FailureNotifier) {
	c.notifier = n
}

// Register binds a stage name to its handler.
func (c *Coordinator) Register(stage string, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[stage] = handler
}

// Dispatch creates the PENDING scan record for the stage and publishes the
// unit of work. A DuplicateActiveScanError is returned unchanged so callers
// can surface it.
func (c *Coordinator) Dispatch(ctx context.Context, stage string, target models.TargetRef, params map[string]string) (*models.ScanRecord, error) {
	scan, err := c.scans.CreateIfNoActive(target, stage)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = make(map[string]string)
	}
	params["scan_id"] = scan.UUID
	params["target_kind"] = string(target.Kind)
	params["target_id"] = fmt.Sprintf("%d", target.ID)

	if err := c.queue.Publish(ctx, queue.Task{Stage: stage, Params: params}); err != nil {
		// The record would otherwise hold its target+tool slot forever.
		if failErr := c.scans.Fail(scan.UUID, fmt.Sprintf("enqueue failed: %v", err)); failErr != nil {
			c.log.WithScan(scan.UUID, stage).WithError(failErr).Error("Failed to fail undispatched scan")
		}
		return nil, err
	}

	c.log.WithScan(scan.UUID, stage).WithFields(logrus.Fields{
		"target_kind": target.Kind,
		"target_id":   target.ID,
	}).Info("Stage dispatched")
	return scan, nil
}

// Run consumes tasks with a bounded worker group until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	tasks, err := c.queue.Consume(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for task := range tasks {
				c.process(ctx, task)
			}
			return nil
		})
	}
	return g.Wait()
}

// process runs one task to its terminal scan state. Stage-local errors are
// recorded, never propagated to the worker loop.
func (c *Coordinator) process(ctx context.Context, task queue.Task) {
	c.mu.RLock()
	handler, ok := c.handlers[task.Stage]
	c.mu.RUnlock()

	scanID := task.Param("scan_id")
	log := c.log.WithScan(scanID, task.Stage)

	if !ok {
		log.Error("No handler registered for stage")
		if scanID != "" {
			if failErr := c.scans.Fail(scanID, fmt.Sprintf("no handler for stage %s", task.Stage)); failErr == nil {
				c.notifyFailure(scanID)
			}
		}
		return
	}

	if scanID != "" {
		if err := c.scans.MarkRunning(scanID); err != nil {
			log.WithError(err).Error("Failed to mark scan running")
			return
		}
	}

	stageCtx := ctx
	var cancel context.CancelFunc
	if c.stageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, c.stageTimeout)
		defer cancel()
	}

	result, err := c.runHandler(stageCtx, handler, task)
	if err != nil {
		log.WithError(err).Error("Stage failed")
		if scanID != "" {
			if failErr := c.scans.Fail(scanID, err.Error()); failErr != nil {
				log.WithError(failErr).Error("Failed to record scan failure")
			} else {
				c.notifyFailure(scanID)
			}
		}
		return
	}

	if scanID != "" {
		if result == nil {
			result = &StageResult{}
		}
		if err := c.scans.Complete(scanID, result.ItemsFound, result.RawOutput); err != nil {
			log.WithError(err).Error("Failed to record scan completion")
			return
		}
	}
	log.WithFields(logrus.Fields{"items_found": itemsFound(result)}).Info("Stage completed")
}

// notifyFailure alerts on a scan that just reached FAILED. A racing
// completion elsewhere means the record may no longer be FAILED; re-read
// before alerting.
func (c *Coordinator) notifyFailure(scanID string) {
	if c.notifier == nil {
		return
	}
	scan, err := c.scans.GetByUUID(scanID)
	if err != nil || scan.Status != models.ScanFailed {
		return
	}
	c.notifier.NotifyScanFailure(scan)
}

func (c *Coordinator) runHandler(ctx context.Context, handler HandlerFunc, task queue.Task) (result *StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

func itemsFound(r *StageResult) int {
	if r == nil {
		return 0
	}
	return r.ItemsFound
}
