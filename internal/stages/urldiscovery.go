package stages

import (
	"context"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/chain"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
)

// URLDiscovery expands a seed's active subdomains into candidate URLs via
// the URL enumerator and enqueues a fetch for every URL not seen before.
func (d *Deps) URLDiscovery(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	seedID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")

	subs, err := d.Subdomains.BySeed(seedID, true)
	if err != nil {
		return nil, err
	}

	newURLs := 0
	for _, sub := range subs {
		result, err := d.Runner.Run(ctx, d.Tools.URLEnumerator, []string{sub.Name})
		if err != nil {
			// One host's enumeration failing does not abort the rest.
			d.Log.WithScan(scanID, chain.StageURLDiscovery).WithFields(logrus.Fields{
				"host":  sub.Name,
				"error": err.Error(),
			}).Warn("URL enumeration failed for host")
			continue
		}

		for _, line := range strings.Split(result.Stdout, "\n") {
			raw := strings.TrimSpace(line)
			if !validURL(raw) {
				continue
			}

			urlResult, created, err := d.URLs.Upsert(raw, sub.ID)
			if err != nil {
				return nil, err
			}
			if !created {
				continue
			}
			newURLs++

			d.dispatchNext(ctx, chain.StageFetch, models.TargetRef{
				Kind: models.KindURL,
				ID:   urlResult.ID,
			}, map[string]string{"origin_scan_id": scanID})
		}
	}

	d.Log.WithScan(scanID, chain.StageURLDiscovery).WithFields(logrus.Fields{
		"hosts":    len(subs),
		"urls_new": newURLs,
	}).Info("URL discovery completed")

	return &chain.StageResult{ItemsFound: newURLs}, nil
}

func validURL(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
