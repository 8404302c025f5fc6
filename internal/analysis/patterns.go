package analysis

import (
	"regexp"
	"strings"
)

// SensitivePattern names one secret-shaped regex scanned against body lines.
type SensitivePattern struct {
	Name     string
	Regex    *regexp.Regexp
	Severity string
	Category string
}

// MatchLocation is one hit of a pattern within the body.
type MatchLocation struct {
	Line  int    `json:"line"`
	Match string `json:"match"`
}

// PatternMatch groups all hits of one pattern.
type PatternMatch struct {
	PatternName string          `json:"pattern_name"`
	Severity    string          `json:"severity"`
	Matches     []MatchLocation `json:"matches"`
}

var sensitivePatterns = []SensitivePattern{
	{Name: "aws_access_key", Regex: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), Severity: "critical", Category: "Credentials"},
	{Name: "aws_secret_key", Regex: regexp.MustCompile(`(?i)aws.{0,20}?['"][0-9a-zA-Z/+]{40}['"]`), Severity: "critical", Category: "Credentials"},
	{Name: "google_api_key", Regex: regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`), Severity: "high", Category: "Credentials"},
	{Name: "slack_token", Regex: regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z\-]{10,}\b`), Severity: "critical", Category: "Credentials"},
	{Name: "github_token", Regex: regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36,}\b`), Severity: "critical", Category: "Credentials"},
	{Name: "private_key_block", Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), Severity: "critical", Category: "Credentials"},
	{Name: "jwt_token", Regex: regexp.MustCompile(`\beyJ[0-9A-Za-z_\-]{10,}\.[0-9A-Za-z_\-]{10,}\.[0-9A-Za-z_\-]{10,}\b`), Severity: "high", Category: "Credentials"},
	{Name: "basic_auth_url", Regex: regexp.MustCompile(`[a-z][a-z0-9+\-.]*://[^/\s:@]+:[^/\s:@]+@`), Severity: "high", Category: "Credentials"},
	{Name: "password_assignment", Regex: regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"][^'"]{4,}['"]`), Severity: "high", Category: "Credentials"},
	{Name: "api_key_assignment", Regex: regexp.MustCompile(`(?i)\b(?:api[_\-]?key|apikey|secret[_\-]?key)\s*[:=]\s*['"][^'"]{8,}['"]`), Severity: "high", Category: "Credentials"},
	{Name: "internal_ip", Regex: regexp.MustCompile(`\b(?:10\.\d{1,3}|192\.168|172\.(?:1[6-9]|2\d|3[01]))\.\d{1,3}\.\d{1,3}\b`), Severity: "medium", Category: "Information Disclosure"},
	{Name: "stack_trace", Regex: regexp.MustCompile(`(?:Traceback \(most recent call last\)|at [\w.$]+\([\w]+\.java:\d+\)|Fatal error:.*on line \d+)`), Severity: "medium", Category: "Information Disclosure"},
	{Name: "todo_fixme_comment", Regex: regexp.MustCompile(`(?i)<!--.*\b(?:todo|fixme|hack|debug)\b.*-->`), Severity: "low", Category: "Information Disclosure"},
	{Name: "email_address", Regex: regexp.MustCompile(`\b[0-9A-Za-z._%+\-]+@[0-9A-Za-z.\-]+\.[A-Za-z]{2,}\b`), Severity: "low", Category: "Information Disclosure"},
}

// maxMatchLen truncates stored match content.
const maxMatchLen = 512

// ScanPatterns runs the sensitive-pattern set over the raw body lines and
// groups the hits per pattern.
func ScanPatterns(body string) []PatternMatch {
	lines := strings.Split(body, "\n")

	var results []PatternMatch
	for _, pattern := range sensitivePatterns {
		var locations []MatchLocation
		for i, line := range lines {
			for _, m := range pattern.Regex.FindAllString(line, -1) {
				if len(m) > maxMatchLen {
					m = m[:maxMatchLen]
				}
				locations = append(locations, MatchLocation{Line: i + 1, Match: m})
			}
		}
		if len(locations) > 0 {
			results = append(results, PatternMatch{
				PatternName: pattern.Name,
				Severity:    pattern.Severity,
				Matches:     locations,
			})
		}
	}
	return results
}
