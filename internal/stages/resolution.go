package stages

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/chain"
	"reconpipe/internal/dao"
	"reconpipe/internal/queue"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/parsers"
)

// Resolution pipes every active hostname of a seed to the resolver in one
// invocation and commits addresses, CNAMEs, and resolvability. Hosts absent
// from the output are explicitly marked unresolvable: lack of resolution is
// a result, not a gap. Classification always follows, even on failure.
func (d *Deps) Resolution(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	seedID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")

	// Best-effort enrichment: the next stage runs regardless of outcome.
	defer d.dispatchNext(ctx, chain.StageClassification, seedRef(seedID), map[string]string{
		"origin_scan_id": scanID,
	})

	subs, err := d.Subdomains.BySeed(seedID, true)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &chain.StageResult{}, nil
	}

	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.Name)
	}

	args := []string{"-a", "-aaaa", "-cname", "-json", "-silent"}
	stdin := strings.NewReader(strings.Join(names, "\n") + "\n")
	result, err := d.Runner.RunWithInput(ctx, d.Tools.Resolver, args, stdin)
	if err != nil {
		stderr := ""
		exitCode := -1
		if result != nil {
			stderr = result.Stderr
			exitCode = result.ExitCode
		}
		return nil, errors.NewToolExecutionError(d.Tools.Resolver, exitCode, stderr, err)
	}

	records := parsers.ParseResolutionOutput([]byte(result.Stdout))

	var updates []dao.ResolutionUpdate
	var unresolved []string
	for _, name := range names {
		rec, ok := records[strings.ToLower(name)]
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}

		raw, _ := json.Marshal(rec)
		cname := ""
		if len(rec.CNAME) > 0 {
			cname = rec.CNAME[0]
		}
		updates = append(updates, dao.ResolutionUpdate{
			Name:       name,
			Addresses:  append(append([]string{}, rec.A...), rec.AAAA...),
			CNAME:      cname,
			RawRecords: string(raw),
			Resolvable: rec.Resolvable(),
		})
	}

	if err := d.Subdomains.ApplyResolution(seedID, updates, unresolved, scanID); err != nil {
		return nil, err
	}

	d.Log.WithScan(scanID, chain.StageResolution).WithFields(logrus.Fields{
		"hosts":      len(names),
		"resolved":   len(updates),
		"unresolved": len(unresolved),
	}).Info("Resolution committed")

	return &chain.StageResult{
		ItemsFound: len(updates),
		RawOutput:  truncate(result.Stdout),
	}, nil
}
