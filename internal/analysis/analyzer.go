package analysis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"reconpipe/internal/models"
	"reconpipe/pkg/logger"

	"github.com/spaolacci/murmur3"
)

// Report bundles the three independent sub-extractions plus the content
// hash for one fetched URL.
type Report struct {
	Document     *Document
	Technologies []Technology
	Patterns     []PatternMatch
	ContentHash  string
}

// Analyzer runs the full analysis over fetched content.
type Analyzer struct {
	tech *TechScanner
	log  *logger.Logger
}

func NewAnalyzer(tech *TechScanner, log *logger.Logger) *Analyzer {
	return &Analyzer{tech: tech, log: log}
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".svg": false, ".pdf": true, ".zip": true, ".gz": true,
	".tar": true, ".exe": true, ".dll": true, ".so": true, ".woff": true,
	".woff2": true, ".ttf": true, ".eot": true, ".mp4": true, ".mp3": true,
}

var textualContentTypes = []string{
	"text/", "application/json", "application/xml", "application/xhtml",
	"application/javascript", "application/x-javascript",
}

// IsTextual gates analysis on content-type, falling back to the URL's
// extension when no content type was returned.
func IsTextual(contentType, rawURL string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct != "" {
		for _, prefix := range textualContentTypes {
			if strings.HasPrefix(ct, prefix) {
				return true
			}
		}
		return false
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(rawURL, "?", 2)[0]))
	if ext == "" {
		return true
	}
	return !binaryExtensions[ext]
}

// Run produces the analysis report for one fetch result. The three
// sub-extractions are independent: a failure in one does not abort the
// others.
func (a *Analyzer) Run(body, finalURL string, headers http.Header, cookies []*http.Cookie) *Report {
	report := &Report{
		ContentHash: ContentHash(body),
	}

	doc, err := ExtractStructure(body, finalURL)
	if err != nil {
		a.log.WithFields(logger.Fields{
			"url":   finalURL,
			"error": err.Error(),
		}).Warn("Structural extraction failed")
	} else {
		report.Document = doc
	}

	report.Technologies = a.tech.Detect(headers, body, cookies)
	report.Patterns = ScanPatterns(body)

	return report
}

// ContentHash is the fast non-cryptographic digest used for change
// detection and content-addressed dedup.
func ContentHash(body string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(body)))
}

// TechStackJSON serializes the detected technologies for storage on the
// URL row.
func TechStackJSON(techs []Technology) string {
	if len(techs) == 0 {
		return ""
	}
	data, err := json.Marshal(techs)
	if err != nil {
		return ""
	}
	return string(data)
}

// Findings flattens pattern matches into the child rows replaced on
// re-analysis.
func Findings(patterns []PatternMatch) []models.AnalysisFinding {
	var findings []models.AnalysisFinding
	seen := make(map[string]struct{})
	for _, p := range patterns {
		for _, m := range p.Matches {
			key := fmt.Sprintf("%s:%d", p.PatternName, m.Line)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			findings = append(findings, models.AnalysisFinding{
				PatternName: p.PatternName,
				LineNumber:  m.Line,
				Match:       m.Match,
			})
		}
	}
	return findings
}
