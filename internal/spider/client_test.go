package spider

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reconpipe/internal/models"
	"reconpipe/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpider(fallback *FallbackClient) *Spider {
	return NewSpider(Config{
		Retries:        2,
		RetryBackoff:   10 * time.Millisecond,
		Timeout:        2 * time.Second,
		ShellSizeLimit: 16384,
	}, fallback, logger.NewLogger(logrus.ErrorLevel))
}

func TestSpider_DirectSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Chrome")
		w.Write([]byte(`<html><head><title>Welcome</title></head><body><p>Landing page with plenty of real content for visitors to read.</p></body></html>`))
	}))
	defer server.Close()

	result := testSpider(NewFallbackClient("", 0, time.Second)).Fetch(context.Background(), server.URL)

	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.Body, "Welcome")
}

func TestSpider_GzipResponseIsDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`<html><head><title>Compressed</title></head><body><p>Served gzipped, readable to every downstream consumer.</p></body></html>`))
		gz.Close()
	}))
	defer server.Close()

	result := testSpider(NewFallbackClient("", 0, time.Second)).Fetch(context.Background(), server.URL)

	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.False(t, result.UsedFallback)
	assert.Contains(t, result.Body, "Served gzipped")
}

func TestSpider_GzipChallengePageEscalates(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`<html><head><title>Just a moment...</title></head><body><form id="challenge-form"></form></body></html>`))
		gz.Close()
	}))
	defer direct.Close()

	solver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"solution": map[string]interface{}{
				"status":   200,
				"url":      direct.URL,
				"response": `<html><head><title>Real page</title></head><body><p>The content behind the challenge.</p></body></html>`,
			},
		})
	}))
	defer solver.Close()

	fallback := NewFallbackClient(solver.URL, 60000, 5*time.Second)
	result := testSpider(fallback).Fetch(context.Background(), direct.URL)

	assert.True(t, result.UsedFallback)
	assert.Contains(t, result.Body, "Real page")
}

func TestSpider_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result := testSpider(NewFallbackClient("", 0, time.Second)).Fetch(context.Background(), server.URL)

	assert.Equal(t, models.FetchNoContent, result.Status)
}

func TestSpider_NetworkErrorWithoutFallback(t *testing.T) {
	result := testSpider(NewFallbackClient("", 0, time.Second)).
		Fetch(context.Background(), "http://127.0.0.1:1/unreachable")

	assert.Equal(t, models.FetchNetworkError, result.Status)
	assert.False(t, result.UsedFallback)
}

func TestSpider_ChallengeEscalatesToFallback(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Just a moment...</title></head><body><form id="challenge-form"></form></body></html>`))
	}))
	defer direct.Close()

	solver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "request.get", req["cmd"])
		assert.Equal(t, direct.URL, req["url"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"message": "",
			"solution": map[string]interface{}{
				"status":   200,
				"url":      direct.URL + "/",
				"headers":  []map[string]string{{"name": "Content-Type", "value": "text/html"}},
				"response": `<html><head><title>Real page</title></head><body><p>The content behind the challenge.</p></body></html>`,
				"cookies":  []map[string]string{{"name": "cf_clearance", "value": "tok"}},
			},
		})
	}))
	defer solver.Close()

	fallback := NewFallbackClient(solver.URL, 60000, 5*time.Second)
	result := testSpider(fallback).Fetch(context.Background(), direct.URL)

	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.Body, "Real page")
	assert.Equal(t, "text/html", result.Headers.Get("Content-Type"))
}

func TestSpider_ChallengeWithoutFallbackKeepsDirect(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`<html><body><p>We are checking your browser before you can continue to the site you requested.</p></body></html>`))
	}))
	defer direct.Close()

	result := testSpider(NewFallbackClient("", 0, time.Second)).Fetch(context.Background(), direct.URL)

	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
}

func TestSpider_RetriesOnTransportError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			// Kill the connection mid-response.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(`<html><body><p>Recovered on the second attempt with normal content.</p></body></html>`))
	}))
	defer server.Close()

	result := testSpider(NewFallbackClient("", 0, time.Second)).Fetch(context.Background(), server.URL)

	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.Equal(t, 2, attempts)
}

func TestSpider_RedirectTracking(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, base+"/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Destination page after one same-host redirect hop.</p></body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	base = server.URL

	result := testSpider(NewFallbackClient("", 0, time.Second)).Fetch(context.Background(), server.URL+"/start")

	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.Equal(t, 1, result.RedirectCount)
	assert.Equal(t, server.URL+"/end", result.FinalURL)
	assert.False(t, result.ExternalRedirect)
}

func TestFallbackClient_Unconfigured(t *testing.T) {
	c := NewFallbackClient("", 0, time.Second)
	assert.False(t, c.Configured())

	_, err := c.Solve(context.Background(), http.MethodGet, "https://example.com", nil, nil)
	assert.Error(t, err)
}
