// Package parsers decodes the textual output formats of the external
// scanning tools: NDJSON streams, nmap XML, and nuclei JSONL.
package parsers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"
)

// ParseDiscoveryOutput consumes the full NDJSON output of the subdomain
// enumerator and aggregates the sources seen per host. Malformed lines are
// logged and skipped.
func ParseDiscoveryOutput(data []byte) map[string][]string {
	sources := make(map[string]map[string]struct{})

	for _, line := range splitLines(data) {
		var rec DiscoveryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.WithFields(logger.Fields{
				"tool": "subfinder",
				"line": string(line),
			}).Warn("Skipping malformed discovery line")
			continue
		}
		if rec.Host == "" {
			continue
		}
		host := strings.ToLower(strings.TrimSpace(rec.Host))
		if sources[host] == nil {
			sources[host] = make(map[string]struct{})
		}
		if rec.Source != "" {
			sources[host][rec.Source] = struct{}{}
		}
	}

	result := make(map[string][]string, len(sources))
	for host, set := range sources {
		list := make([]string, 0, len(set))
		for s := range set {
			list = append(list, s)
		}
		sort.Strings(list)
		result[host] = list
	}
	return result
}

// ParseResolutionLine decodes one resolver output line.
func ParseResolutionLine(line string) (*ResolutionRecord, error) {
	var rec ResolutionRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, errors.NewParseError("dnsx", line, err)
	}
	if rec.Host == "" {
		return nil, errors.NewParseError("dnsx", line, fmt.Errorf("missing host field"))
	}
	rec.Host = strings.ToLower(strings.TrimSpace(rec.Host))
	return &rec, nil
}

// ParseResolutionOutput decodes the resolver's full NDJSON output, keyed by
// host. Malformed lines are logged and skipped.
func ParseResolutionOutput(data []byte) map[string]*ResolutionRecord {
	records := make(map[string]*ResolutionRecord)
	for _, line := range splitLines(data) {
		rec, err := ParseResolutionLine(string(line))
		if err != nil {
			logger.WithFields(logger.Fields{"tool": "dnsx", "line": string(line)}).Warn("Skipping malformed resolution line")
			continue
		}
		records[rec.Host] = rec
	}
	return records
}

// ParseClassificationLine decodes one classifier output line.
func ParseClassificationLine(line string) (*ClassificationRecord, error) {
	var rec ClassificationRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, errors.NewParseError("cdncheck", line, err)
	}
	if rec.Input == "" {
		return nil, errors.NewParseError("cdncheck", line, fmt.Errorf("missing input field"))
	}
	rec.Input = strings.ToLower(strings.TrimSpace(rec.Input))
	return &rec, nil
}

// ParseClassificationOutput decodes the classifier's full NDJSON output.
// Malformed lines are logged and skipped.
func ParseClassificationOutput(data []byte) []*ClassificationRecord {
	var records []*ClassificationRecord
	for _, line := range splitLines(data) {
		rec, err := ParseClassificationLine(string(line))
		if err != nil {
			logger.WithFields(logger.Fields{"tool": "cdncheck", "line": string(line)}).Warn("Skipping malformed classification line")
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ParseNmapXML decodes one full nmap XML document. Unlike the streaming
// formats this is all-or-nothing: a truncated document fails the whole scan.
func ParseNmapXML(data []byte) (*NmapRun, error) {
	var run NmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("nmap XML parse failed (scan may be incomplete): %w", err)
	}
	return &run, nil
}

// ParseNucleiLine decodes one vulnerability-engine JSONL line.
func ParseNucleiLine(line string) (*NucleiResult, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}
	var rec NucleiResult
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, errors.NewParseError("nuclei", line, err)
	}
	return &rec, nil
}

// Fingerprint derives the stable identity of a vulnerability finding so
// re-scans upsert instead of duplicating.
func Fingerprint(templateID, matchedAt string) string {
	sum := sha256.Sum256([]byte(templateID + "|" + matchedAt))
	return hex.EncodeToString(sum[:])
}

// Severity returns the finding severity normalized to lowercase.
func (r *NucleiResult) Severity() string {
	if r.Info.Severity == "" {
		return "info"
	}
	return strings.ToLower(r.Info.Severity)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
