package spider

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Markers that identify an anti-bot challenge interstitial, matched
// case-insensitively. Any match is sufficient to escalate, regardless of
// status code.
var challengeMarkers = []string{
	"challenge-form",
	"jschl_vc",
	"cf-browser-verification",
	"just a moment...",
	"checking your browser",
	"/cdn-cgi/challenge-platform/",
}

var (
	metaRefreshRe    = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']?refresh["']?`)
	locationAssignRe = regexp.MustCompile(`(?i)(?:window\.|document\.|top\.)?location(?:\.href)?\s*=|location\.(?:replace|assign)\s*\(`)
	formSubmitRe     = regexp.MustCompile(`(?i)(?:document\.)?(?:forms?\[\d+\]|getElementById\([^)]*\)|\w+)\.submit\s*\(\s*\)`)
)

// minVisibleText is the character floor below which a script-bearing page
// counts as an empty shell.
const minVisibleText = 50

// detectChallenge returns the first challenge marker found in the body.
func detectChallenge(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

// isSoftRedirect reports whether an HTTP 200 body is really a shell page
// that redirects via markup or script instead of a 3xx.
func isSoftRedirect(body string, sizeLimit int) bool {
	if len(body) == 0 || len(body) > sizeLimit {
		return false
	}
	if !looksLikeHTML(body) {
		return false
	}

	if metaRefreshRe.MatchString(body) {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}

	var scriptText strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptText.WriteString(s.Text())
		scriptText.WriteString("\n")
	})
	scripts := scriptText.String()

	if locationAssignRe.MatchString(scripts) {
		return true
	}
	if formSubmitRe.MatchString(scripts) {
		return true
	}

	if len(scripts) > 0 {
		visible := strings.TrimSpace(doc.Find("body").Text())
		if len(visible) < minVisibleText {
			return true
		}
	}

	return false
}

func looksLikeHTML(body string) bool {
	head := strings.ToLower(body)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") ||
		strings.Contains(head, "<head") || strings.Contains(head, "<body")
}
