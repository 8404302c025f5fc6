package spider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const shellSizeLimit = 16384

func TestDetectChallenge(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		marker string
		want   bool
	}{
		{
			name:   "cloudflare challenge form",
			body:   `<html><body><form id="challenge-form" action="/verify"></form></body></html>`,
			marker: "challenge-form",
			want:   true,
		},
		{
			name:   "jschl token",
			body:   `<input type="hidden" name="jschl_vc" value="abc123">`,
			marker: "jschl_vc",
			want:   true,
		},
		{
			name:   "just a moment title",
			body:   `<html><head><title>Just a moment...</title></head></html>`,
			marker: "just a moment...",
			want:   true,
		},
		{
			name:   "lowercased interstitial title",
			body:   `<html><head><title>just a moment...</title></head></html>`,
			marker: "just a moment...",
			want:   true,
		},
		{
			name:   "uppercased browser check text",
			body:   `<p>CHECKING YOUR BROWSER before accessing the site.</p>`,
			marker: "checking your browser",
			want:   true,
		},
		{
			name:   "checking your browser text",
			body:   `<p>We are checking your browser before accessing the site.</p>`,
			marker: "checking your browser",
			want:   true,
		},
		{
			name:   "challenge platform asset path",
			body:   `<script src="/cdn-cgi/challenge-platform/h/b/orchestrate.js"></script>`,
			marker: "/cdn-cgi/challenge-platform/",
			want:   true,
		},
		{
			name: "ordinary page",
			body: `<html><body><h1>Product catalog</h1><p>Browse our full range.</p></body></html>`,
			want: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			marker, found := detectChallenge(tc.body)
			assert.Equal(t, tc.want, found)
			if tc.want {
				assert.Equal(t, tc.marker, marker)
			}
		})
	}
}

func TestIsSoftRedirect_MetaRefresh(t *testing.T) {
	body := `<html><head><meta http-equiv="refresh" content="0;url=https://other.example.com/"></head><body></body></html>`
	assert.True(t, isSoftRedirect(body, shellSizeLimit))
}

func TestIsSoftRedirect_LocationAssignment(t *testing.T) {
	bodies := []string{
		`<html><body><script>window.location.href = "https://next.example.com/";</script></body></html>`,
		`<html><body><script>location.replace("/login");</script></body></html>`,
		`<html><body><script>document.location = "/home";</script></body></html>`,
	}
	for _, body := range bodies {
		assert.True(t, isSoftRedirect(body, shellSizeLimit), body)
	}
}

func TestIsSoftRedirect_ScriptSubmittedForm(t *testing.T) {
	body := `<html><body><form id="f" action="/next" method="post"></form><script>document.forms[0].submit();</script></body></html>`
	assert.True(t, isSoftRedirect(body, shellSizeLimit))
}

func TestIsSoftRedirect_EmptyShellWithScripts(t *testing.T) {
	body := `<html><body><div></div><script>var a = computeState(); init(a);</script></body></html>`
	assert.True(t, isSoftRedirect(body, shellSizeLimit))
}

func TestIsSoftRedirect_ContentRichPage(t *testing.T) {
	body := `<html><body>
		<h1>Quarterly results</h1>
		<p>Revenue grew across all segments this quarter, driven by strong demand
		for the hosted platform and continued expansion into new regions. The
		board approved an increased investment in infrastructure.</p>
		<script>analytics.track("pageview");</script>
	</body></html>`
	assert.False(t, isSoftRedirect(body, shellSizeLimit))
}

func TestIsSoftRedirect_OverSizeCeiling(t *testing.T) {
	big := `<html><body><script>location.href = "/x";</script>` +
		string(make([]byte, shellSizeLimit)) + `</body></html>`
	assert.False(t, isSoftRedirect(big, shellSizeLimit))
}

func TestIsSoftRedirect_NonHTML(t *testing.T) {
	assert.False(t, isSoftRedirect(`{"status":"ok","items":[]}`, shellSizeLimit))
	assert.False(t, isSoftRedirect("", shellSizeLimit))
}
