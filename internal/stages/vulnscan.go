package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/chain"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/parsers"
)

// VulnScan streams the vulnerability engine's JSONL output for one target.
// Each line is an independent idempotent upsert keyed by a content
// fingerprint, so partial progress survives a mid-stream tool failure.
func (d *Deps) VulnScan(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	target, err := d.vulnTarget(task)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")
	log := d.Log.WithScan(scanID, chain.StageVulnScan)

	found := 0
	skipped := 0
	args := []string{"-u", target, "-jsonl", "-silent", "-no-color"}
	result, err := d.Runner.Stream(ctx, d.Tools.VulnScanner, args, func(line string) error {
		rec, parseErr := parsers.ParseNucleiLine(line)
		if parseErr != nil {
			// One malformed line does not stop the stream.
			skipped++
			log.WithFields(logrus.Fields{"line": line}).Warn("Skipping malformed finding line")
			return nil
		}
		if rec == nil {
			return nil
		}

		vuln := &models.Vulnerability{
			Fingerprint:      parsers.Fingerprint(rec.TemplateID, rec.MatchedAt),
			TemplateID:       rec.TemplateID,
			Name:             rec.Info.Name,
			Severity:         rec.Severity(),
			MatchedAt:        rec.MatchedAt,
			ExtractedResults: strings.Join(rec.ExtractedResults, "\n"),
			Request:          rec.Request,
			Response:         rec.Response,
			ScanID:           scanID,
		}

		isNew, upsertErr := d.Vulns.Upsert(vuln)
		if upsertErr != nil {
			return upsertErr
		}
		found++

		if isNew && (vuln.Severity == "high" || vuln.Severity == "critical") {
			d.Notifier.NotifyVulnerability(vuln)
		}
		return nil
	})
	if err != nil {
		stderr := ""
		exitCode := -1
		if result != nil {
			stderr = result.Stderr
			exitCode = result.ExitCode
		}
		// Findings already upserted stay committed.
		return nil, errors.NewToolExecutionError(d.Tools.VulnScanner, exitCode, stderr, err)
	}

	log.WithFields(logrus.Fields{
		"target":   target,
		"findings": found,
		"skipped":  skipped,
	}).Info("Vulnerability scan committed")

	return &chain.StageResult{ItemsFound: found}, nil
}

// vulnTarget resolves the task's tagged target to the URL or host string
// handed to the engine.
func (d *Deps) vulnTarget(task queue.Task) (string, error) {
	id, err := targetID(task)
	if err != nil {
		return "", err
	}

	switch models.TargetKind(task.Param("target_kind")) {
	case models.KindURL:
		urlResult, err := d.URLs.GetByID(id)
		if err != nil {
			return "", err
		}
		return urlResult.URL, nil
	case models.KindSubdomain:
		sub, err := d.Subdomains.GetByID(id)
		if err != nil {
			return "", err
		}
		return sub.Name, nil
	case models.KindIP:
		ip, err := d.IPs.GetByID(id)
		if err != nil {
			return "", err
		}
		return ip.Address, nil
	case models.KindSeed:
		return "", fmt.Errorf("vulnerability scan cannot target a seed")
	default:
		return "", fmt.Errorf("unknown target kind %q", task.Param("target_kind"))
	}
}
