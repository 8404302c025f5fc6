package spider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"reconpipe/pkg/errors"
)

// NameValue is the cookie/header pair shape of the browser-proxy protocol.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type solverRequest struct {
	Cmd           string      `json:"cmd"`
	URL           string      `json:"url"`
	MaxTimeout    int         `json:"maxTimeout"`
	Cookies       []NameValue `json:"cookies,omitempty"`
	CustomHeaders []NameValue `json:"customHeaders,omitempty"`
}

type solverSolution struct {
	Status   int         `json:"status"`
	URL      string      `json:"url"`
	Headers  []NameValue `json:"headers"`
	Response string      `json:"response"`
	Cookies  []NameValue `json:"cookies"`
}

type solverResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Solution solverSolution `json:"solution"`
}

// FallbackClient renders a challenge-protected page through the headless
// browser proxy. The nil-safe zero value reports unconfigured.
type FallbackClient struct {
	baseURL    string
	maxTimeout int
	http       *http.Client
}

// NewFallbackClient builds a client for the browser-proxy service. An empty
// baseURL yields a client that reports unconfigured.
func NewFallbackClient(baseURL string, maxTimeoutMS int, requestTimeout time.Duration) *FallbackClient {
	return &FallbackClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxTimeout: maxTimeoutMS,
		http:       &http.Client{Timeout: requestTimeout},
	}
}

// Configured reports whether a proxy endpoint was set.
func (c *FallbackClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Healthy probes the proxy's health endpoint.
func (c *FallbackClient) Healthy(ctx context.Context) error {
	if !c.Configured() {
		return errors.ErrFallbackUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fallback health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fallback health check returned %d", resp.StatusCode)
	}
	return nil
}

// Solve renders the target URL and maps the proxy's solution into the same
// response shape the direct fetch produces.
func (c *FallbackClient) Solve(ctx context.Context, method, targetURL string, cookies []NameValue, headers []NameValue) (*FetchResult, error) {
	if !c.Configured() {
		return nil, errors.ErrFallbackUnavailable
	}

	payload := solverRequest{
		Cmd:           "request." + strings.ToLower(method),
		URL:           targetURL,
		MaxTimeout:    c.maxTimeout,
		Cookies:       cookies,
		CustomHeaders: headers,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError(targetURL, 1, err)
	}
	defer resp.Body.Close()

	var decoded solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding fallback response: %w", err)
	}
	if decoded.Status != "ok" {
		return nil, fmt.Errorf("fallback request failed: %s", decoded.Message)
	}

	result := &FetchResult{
		StatusCode:   decoded.Solution.Status,
		Body:         decoded.Solution.Response,
		FinalURL:     decoded.Solution.URL,
		Headers:      http.Header{},
		UsedFallback: true,
	}
	for _, h := range decoded.Solution.Headers {
		result.Headers.Add(h.Name, h.Value)
	}
	return result, nil
}
