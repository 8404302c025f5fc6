package stages

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/analysis"
	"reconpipe/internal/chain"
	"reconpipe/internal/dao"
	"reconpipe/internal/queue"
)

// Analysis extracts structure, technologies, and sensitive-pattern findings
// from a fetched URL's content, then replaces the URL's child records
// wholesale. Binary content is skipped.
func (d *Deps) Analysis(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	urlID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	urlResult, err := d.URLs.GetByID(urlID)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")

	if !analysis.IsTextual(urlResult.ContentType, urlResult.URL) {
		d.Log.WithScan(scanID, chain.StageAnalysis).WithFields(logrus.Fields{
			"url":          urlResult.URL,
			"content_type": urlResult.ContentType,
		}).Info("Skipping non-textual content")
		return &chain.StageResult{RawOutput: "skipped: non-textual content"}, nil
	}

	var headers http.Header
	if urlResult.Headers != "" {
		_ = json.Unmarshal([]byte(urlResult.Headers), &headers)
	}
	// Set-Cookie signatures fire on what the server tried to set.
	cookies := (&http.Response{Header: headers}).Cookies()

	report := d.Analyzer.Run(urlResult.Body, urlResult.FinalURL, headers, cookies)

	children := dao.URLChildren{
		Findings: analysis.Findings(report.Patterns),
	}
	if report.Document != nil {
		urlResult.Title = report.Document.Title
		children.Forms = report.Document.Forms
		children.Links = report.Document.Links
		children.Scripts = report.Document.Scripts
		children.Comments = report.Document.Comments
		children.MetaTags = report.Document.MetaTags
		children.Iframes = report.Document.Iframes
	}

	urlResult.ContentHash = report.ContentHash
	urlResult.TechStack = analysis.TechStackJSON(report.Technologies)

	if err := d.URLs.Save(urlResult); err != nil {
		return nil, err
	}
	if err := d.URLs.ReplaceChildren(urlID, children); err != nil {
		return nil, err
	}

	d.Log.WithScan(scanID, chain.StageAnalysis).WithFields(logrus.Fields{
		"url":          urlResult.URL,
		"title":        urlResult.Title,
		"technologies": len(report.Technologies),
		"findings":     len(children.Findings),
	}).Info("Analysis committed")

	return &chain.StageResult{ItemsFound: len(children.Findings)}, nil
}
