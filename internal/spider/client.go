// Package spider implements the escalating HTTP fetch: a direct
// browser-impersonating request first, then a headless-browser fallback when
// an anti-bot challenge or empty shell page is detected.
package spider

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"
)

// maxBodySize bounds what a single fetch will hold in memory.
const maxBodySize = 10 * 1024 * 1024

// Browser-impersonating header set sent on every direct request.
// Accept-Encoding stays unset so the transport negotiates gzip itself and
// transparently decompresses the response body.
var impersonationHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Sec-Ch-Ua":       `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
	"Sec-Fetch-Dest":  "document",
	"Sec-Fetch-Mode":  "navigate",
	"Sec-Fetch-Site":  "none",
}

// FetchResult is the fetch-strategy-agnostic response shape. Direct and
// fallback paths both produce it, so downstream analysis never branches.
type FetchResult struct {
	StatusCode       int
	Headers          http.Header
	Body             string
	FinalURL         string
	RedirectCount    int
	ExternalRedirect bool
	UsedFallback     bool
	Status           models.FetchStatus
}

type Config struct {
	Retries        int
	RetryBackoff   time.Duration
	Timeout        time.Duration
	ShellSizeLimit int
}

// Spider performs escalating fetches. Construct with NewSpider and share
// freely; it is safe for concurrent use.
type Spider struct {
	cfg       Config
	transport http.RoundTripper
	fallback  *FallbackClient
	log       *logger.Logger
}

func NewSpider(cfg Config, fallback *FallbackClient, log *logger.Logger) *Spider {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.ShellSizeLimit <= 0 {
		cfg.ShellSizeLimit = 16384
	}
	return &Spider{
		cfg: cfg,
		transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			ForceAttemptHTTP2: true,
		},
		fallback: fallback,
		log:      log,
	}
}

// Fetch runs the full state machine for one URL:
// direct attempt -> challenge/shell detection -> optional fallback.
// The returned result always carries a terminal Status.
func (s *Spider) Fetch(ctx context.Context, targetURL string) *FetchResult {
	direct, err := s.fetchDirect(ctx, targetURL)
	if err == nil {
		marker, challenged := detectChallenge(direct.Body)
		softRedirect := direct.StatusCode == http.StatusOK && isSoftRedirect(direct.Body, s.cfg.ShellSizeLimit)

		if !challenged && !softRedirect {
			direct.Status = finalStatus(direct)
			return direct
		}

		reason := "soft_redirect"
		if challenged {
			reason = (&errors.ChallengeDetectedError{URL: targetURL, Marker: marker}).Error()
		}
		s.log.WithFields(logger.Fields{
			"url":    targetURL,
			"reason": reason,
		}).Info("Escalating to fallback fetch")
	} else {
		s.log.WithFields(logger.Fields{
			"url":   targetURL,
			"error": err.Error(),
		}).Warn("Direct fetch failed, escalating")
	}

	if !s.fallback.Configured() {
		if err != nil {
			return &FetchResult{FinalURL: targetURL, Status: models.FetchNetworkError}
		}
		// Challenge page with no fallback available: keep what we got.
		direct.Status = finalStatus(direct)
		return direct
	}

	solved, solveErr := s.fallback.Solve(ctx, http.MethodGet, targetURL, nil, nil)
	if solveErr != nil {
		s.log.WithFields(logger.Fields{
			"url":   targetURL,
			"error": solveErr.Error(),
		}).Error("Fallback fetch failed")
		if err != nil {
			return &FetchResult{FinalURL: targetURL, UsedFallback: true, Status: models.FetchNetworkError}
		}
		direct.Status = finalStatus(direct)
		return direct
	}

	if solved.FinalURL == "" {
		solved.FinalURL = targetURL
	}
	solved.ExternalRedirect = externalRedirect(targetURL, solved.FinalURL)
	solved.Status = finalStatus(solved)
	return solved
}

// fetchDirect issues the impersonated request with bounded retries and
// exponential backoff on transport errors.
func (s *Spider) fetchDirect(ctx context.Context, targetURL string) (*FetchResult, error) {
	var redirects []string
	client := &http.Client{
		Transport: s.transport,
		Timeout:   s.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects = append(redirects, req.URL.String())
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	var lastErr error
	backoff := s.cfg.RetryBackoff
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		redirects = redirects[:0]

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return nil, err
		}
		for name, value := range impersonationHeaders {
			req.Header.Set(name, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			if attempt < s.cfg.Retries {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, errors.NewNetworkError(targetURL, attempt, ctx.Err())
				}
				backoff *= 2
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		finalURL := targetURL
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}

		return &FetchResult{
			StatusCode:       resp.StatusCode,
			Headers:          resp.Header,
			Body:             string(body),
			FinalURL:         finalURL,
			RedirectCount:    len(redirects),
			ExternalRedirect: externalRedirect(targetURL, finalURL),
		}, nil
	}

	return nil, errors.NewNetworkError(targetURL, s.cfg.Retries, lastErr)
}

func finalStatus(r *FetchResult) models.FetchStatus {
	if r.StatusCode == http.StatusNoContent || len(strings.TrimSpace(r.Body)) == 0 {
		return models.FetchNoContent
	}
	return models.FetchSuccess
}

func externalRedirect(original, final string) bool {
	if original == final {
		return false
	}
	origURL, err := url.Parse(original)
	if err != nil {
		return false
	}
	finalURL, err := url.Parse(final)
	if err != nil {
		return false
	}
	return !strings.EqualFold(origURL.Hostname(), finalURL.Hostname())
}
