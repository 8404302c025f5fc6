package stages

import (
	"context"
	stderrors "errors"
	"fmt"

	"reconpipe/internal/chain"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"

	"github.com/sirupsen/logrus"
	"reconpipe/pkg/parsers"
)

// Discovery enumerates candidate subdomains for a seed and diffs them
// against the known set: new hosts inserted active, reappearing hosts
// reactivated with their sources unioned, missing hosts soft-tombstoned.
func (d *Deps) Discovery(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	seedID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	seed, err := d.Seeds.GetSeed(seedID)
	if err != nil {
		return nil, err
	}
	if seed.Type != models.SeedDomain {
		return nil, fmt.Errorf("seed %d has type %s, discovery needs a domain", seedID, seed.Type)
	}

	args := []string{"-d", seed.Value, "-all", "-silent", "-oJ"}
	result, err := d.Runner.Run(ctx, d.Tools.Discovery, args)
	if err != nil {
		stderr := ""
		exitCode := -1
		if result != nil {
			stderr = result.Stderr
			exitCode = result.ExitCode
		}
		// No partial writes: the diff below never ran.
		return nil, errors.NewToolExecutionError(d.Tools.Discovery, exitCode, stderr, err)
	}

	hosts := parsers.ParseDiscoveryOutput([]byte(result.Stdout))
	scanID := task.Param("scan_id")

	added, err := d.Subdomains.ApplyDiscovery(seedID, hosts, scanID)
	if err != nil {
		return nil, fmt.Errorf("committing discovery diff: %w", err)
	}

	d.Log.WithScan(scanID, chain.StageDiscovery).WithFields(logrus.Fields{
		"seed":       seed.Value,
		"hosts_seen": len(hosts),
		"hosts_new":  added,
	}).Info("Discovery diff committed")

	// Resolution follows unconditionally, carrying provenance.
	d.dispatchNext(ctx, chain.StageResolution, seedRef(seedID), map[string]string{
		"origin_scan_id": scanID,
	})

	return &chain.StageResult{
		ItemsFound: added,
		RawOutput:  truncate(result.Stdout),
	}, nil
}

// dispatchNext enqueues the successor stage. A duplicate-active refusal is
// expected when the gap scheduler raced us; anything else is logged.
func (d *Deps) dispatchNext(ctx context.Context, stage string, target models.TargetRef, params map[string]string) {
	_, err := d.Coordinator.Dispatch(ctx, stage, target, params)
	if err == nil {
		return
	}

	var dup *errors.DuplicateActiveScanError
	if stderrors.As(err, &dup) {
		d.Log.WithFields(logger.Fields{
			"stage":       stage,
			"target_kind": target.Kind,
			"target_id":   target.ID,
		}).Debug("Successor stage already active, skipping dispatch")
		return
	}

	d.Log.WithFields(logger.Fields{
		"stage":       stage,
		"target_kind": target.Kind,
		"target_id":   target.ID,
		"error":       err.Error(),
	}).Error("Failed to dispatch successor stage")
}
