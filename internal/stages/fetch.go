package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/chain"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
)

// Fetch runs the escalating fetch for one URL and records the outcome on
// its row. The fetch result is the stage's product, so even a failed fetch
// completes the scan: FAILED_NETWORK_ERROR on the URL is a terminal answer,
// not a stage crash.
func (d *Deps) Fetch(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	urlID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	urlResult, err := d.URLs.GetByID(urlID)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")

	fetched := d.Spider.Fetch(ctx, urlResult.URL)

	headers, _ := json.Marshal(fetched.Headers)

	urlResult.ContentFetchStatus = fetched.Status
	urlResult.StatusCode = fetched.StatusCode
	urlResult.Headers = string(headers)
	urlResult.Body = fetched.Body
	urlResult.ContentType = fetched.Headers.Get("Content-Type")
	urlResult.FinalURL = fetched.FinalURL
	urlResult.RedirectCount = fetched.RedirectCount
	urlResult.ExternalRedirect = fetched.ExternalRedirect
	urlResult.UsedFallbackFetch = fetched.UsedFallback

	if err := d.URLs.Save(urlResult); err != nil {
		return nil, err
	}

	d.Log.WithScan(scanID, chain.StageFetch).WithFields(logrus.Fields{
		"url":           urlResult.URL,
		"status":        fetched.Status,
		"status_code":   fetched.StatusCode,
		"used_fallback": fetched.UsedFallback,
	}).Info("Fetch recorded")

	if fetched.Status == models.FetchSuccess {
		d.dispatchNext(ctx, chain.StageAnalysis, models.TargetRef{
			Kind: models.KindURL,
			ID:   urlResult.ID,
		}, map[string]string{"origin_scan_id": scanID})
	}

	items := 0
	if fetched.Status == models.FetchSuccess {
		items = 1
	}
	return &chain.StageResult{
		ItemsFound: items,
		RawOutput:  fmt.Sprintf("status=%s used_fallback=%t", fetched.Status, fetched.UsedFallback),
	}, nil
}
