package stages

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/chain"
	"reconpipe/internal/dao"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
	"reconpipe/pkg/parsers"

	"golang.org/x/sync/errgroup"
)

// Classification tags active, resolvable subdomains with CDN/WAF presence.
// The hostname list is split into fixed-size chunks, one classifier
// invocation per chunk, run concurrently under a bounded pool. Chunk
// failures are isolated from their siblings, and only changed verdicts are
// written.
func (d *Deps) Classification(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	seedID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")

	// URL discovery follows regardless of classifier outcome.
	defer d.dispatchNext(ctx, chain.StageURLDiscovery, seedRef(seedID), map[string]string{
		"origin_scan_id": scanID,
	})

	subs, err := d.Subdomains.ActiveResolvable(seedID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &chain.StageResult{}, nil
	}

	byName := make(map[string]*models.Subdomain, len(subs))
	names := make([]string, 0, len(subs))
	for i := range subs {
		byName[strings.ToLower(subs[i].Name)] = &subs[i]
		names = append(names, subs[i].Name)
	}

	chunks := chunkStrings(names, d.Classify.ChunkSize)

	var changed, failedChunks atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Classify.Workers)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			count, err := d.classifyChunk(gctx, chunk, byName, scanID)
			if err != nil {
				failedChunks.Add(1)
				d.Log.WithScan(scanID, chain.StageClassification).WithFields(logrus.Fields{
					"chunk_size": len(chunk),
					"error":      err.Error(),
				}).Error("Classifier chunk failed")
				// Sibling chunks keep running.
				return nil
			}
			changed.Add(int64(count))
			return nil
		})
	}
	_ = g.Wait()

	if int(failedChunks.Load()) == len(chunks) {
		return nil, fmt.Errorf("all %d classifier chunks failed", len(chunks))
	}

	d.Log.WithScan(scanID, chain.StageClassification).WithFields(logrus.Fields{
		"hosts":         len(names),
		"chunks":        len(chunks),
		"chunks_failed": failedChunks.Load(),
		"changed":       changed.Load(),
	}).Info("Classification completed")

	return &chain.StageResult{ItemsFound: int(changed.Load())}, nil
}

func (d *Deps) classifyChunk(ctx context.Context, hosts []string, byName map[string]*models.Subdomain, scanID string) (int, error) {
	args := []string{"-resp", "-json", "-silent"}
	stdin := strings.NewReader(strings.Join(hosts, "\n") + "\n")
	result, err := d.Runner.RunWithInput(ctx, d.Tools.Classifier, args, stdin)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, rec := range parsers.ParseClassificationOutput([]byte(result.Stdout)) {
		sub, ok := byName[rec.Input]
		if !ok {
			continue
		}
		wrote, err := d.Subdomains.UpdateClassification(sub.ID, dao.Classification{
			IsCDN:   rec.CDN,
			CDNName: rec.CDNName,
			IsWAF:   rec.WAF,
			WAFName: rec.WAFName,
		}, scanID)
		if err != nil {
			return changed, err
		}
		if wrote {
			changed++
		}
	}
	return changed, nil
}

func chunkStrings(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
