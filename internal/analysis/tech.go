package analysis

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sync"

	"reconpipe/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Technology is one fingerprint match.
type Technology struct {
	Name       string `json:"name"`
	Version    string `json:"version,omitempty"`
	Category   string `json:"category,omitempty"`
	Confidence int    `json:"confidence"`
}

type signatureSpec struct {
	Name       string            `yaml:"name"`
	Category   string            `yaml:"category"`
	Confidence int               `yaml:"confidence"`
	Headers    map[string]string `yaml:"headers"`
	Cookies    map[string]string `yaml:"cookies"`
	Body       []string          `yaml:"body"`
}

type signatureFile struct {
	Technologies []signatureSpec `yaml:"technologies"`
}

type compiledSignature struct {
	name       string
	category   string
	confidence int
	headers    map[string]*regexp.Regexp
	cookies    map[string]*regexp.Regexp
	body       []*regexp.Regexp
}

// TechScanner matches response headers, cookies, and body against a
// signature set. The set can be hot-reloaded from its YAML file.
type TechScanner struct {
	path string
	log  *logger.Logger

	mu   sync.RWMutex
	sigs []compiledSignature
}

// NewTechScanner loads the signature file at path. A missing file leaves
// the scanner with the built-in signatures.
func NewTechScanner(path string, log *logger.Logger) *TechScanner {
	t := &TechScanner{path: path, log: log}
	t.sigs = compileSignatures(builtinSignatures)

	if path != "" {
		if err := t.Reload(); err != nil {
			log.WithFields(logger.Fields{
				"path":  path,
				"error": err.Error(),
			}).Warn("Using built-in technology signatures")
		}
	}
	return t
}

// Reload re-reads the signature file and swaps the compiled set.
func (t *TechScanner) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}

	var file signatureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing signature file %s: %w", t.path, err)
	}
	if len(file.Technologies) == 0 {
		return fmt.Errorf("signature file %s defines no technologies", t.path)
	}

	compiled := compileSignatures(file.Technologies)
	t.mu.Lock()
	t.sigs = compiled
	t.mu.Unlock()

	t.log.WithFields(logger.Fields{
		"path":       t.path,
		"signatures": len(compiled),
	}).Info("Technology signatures loaded")
	return nil
}

// Watch reloads the signature set whenever its file changes, until ctx is
// cancelled.
func (t *TechScanner) Watch(ctx context.Context) {
	if t.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.WithError(err).Error("Signature watcher unavailable")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(t.path); err != nil {
		t.log.WithError(err).Error("Cannot watch signature file")
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := t.Reload(); err != nil {
					t.log.WithError(err).Error("Signature reload failed")
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.log.WithError(err).Error("Signature watcher error")
		case <-ctx.Done():
			return
		}
	}
}

// Detect runs the signature set over one response.
func (t *TechScanner) Detect(headers http.Header, body string, cookies []*http.Cookie) []Technology {
	t.mu.RLock()
	sigs := t.sigs
	t.mu.RUnlock()

	var found []Technology
	seen := make(map[string]struct{})

	for _, sig := range sigs {
		version, matched := sig.match(headers, body, cookies)
		if !matched {
			continue
		}
		if _, dup := seen[sig.name]; dup {
			continue
		}
		seen[sig.name] = struct{}{}
		found = append(found, Technology{
			Name:       sig.name,
			Version:    version,
			Category:   sig.category,
			Confidence: sig.confidence,
		})
	}
	return found
}

func (s *compiledSignature) match(headers http.Header, body string, cookies []*http.Cookie) (string, bool) {
	for name, re := range s.headers {
		value := headers.Get(name)
		if value == "" {
			continue
		}
		if m := re.FindStringSubmatch(value); m != nil {
			return captureVersion(m), true
		}
	}

	for name, re := range s.cookies {
		for _, c := range cookies {
			if c.Name != name {
				continue
			}
			if m := re.FindStringSubmatch(c.Value); m != nil {
				return captureVersion(m), true
			}
		}
	}

	for _, re := range s.body {
		if m := re.FindStringSubmatch(body); m != nil {
			return captureVersion(m), true
		}
	}

	return "", false
}

func captureVersion(m []string) string {
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

func compileSignatures(specs []signatureSpec) []compiledSignature {
	var compiled []compiledSignature
	for _, spec := range specs {
		sig := compiledSignature{
			name:       spec.Name,
			category:   spec.Category,
			confidence: spec.Confidence,
			headers:    make(map[string]*regexp.Regexp),
			cookies:    make(map[string]*regexp.Regexp),
		}
		if sig.confidence == 0 {
			sig.confidence = 100
		}

		ok := true
		for name, pattern := range spec.Headers {
			re, err := regexp.Compile(pattern)
			if err != nil {
				ok = false
				break
			}
			sig.headers[name] = re
		}
		for name, pattern := range spec.Cookies {
			re, err := regexp.Compile(pattern)
			if err != nil {
				ok = false
				break
			}
			sig.cookies[name] = re
		}
		for _, pattern := range spec.Body {
			re, err := regexp.Compile(pattern)
			if err != nil {
				ok = false
				break
			}
			sig.body = append(sig.body, re)
		}

		if ok {
			compiled = append(compiled, sig)
		}
	}
	return compiled
}

// builtinSignatures cover the common stacks so the scanner works without a
// signature file deployed.
var builtinSignatures = []signatureSpec{
	{
		Name: "nginx", Category: "web-server",
		Headers: map[string]string{"Server": `(?i)nginx(?:/([\d.]+))?`},
	},
	{
		Name: "Apache", Category: "web-server",
		Headers: map[string]string{"Server": `(?i)apache(?:/([\d.]+))?`},
	},
	{
		Name: "Microsoft-IIS", Category: "web-server",
		Headers: map[string]string{"Server": `(?i)microsoft-iis(?:/([\d.]+))?`},
	},
	{
		Name: "PHP", Category: "language",
		Headers: map[string]string{"X-Powered-By": `(?i)php(?:/([\d.]+))?`},
		Cookies: map[string]string{"PHPSESSID": `.+`},
	},
	{
		Name: "ASP.NET", Category: "framework",
		Headers: map[string]string{"X-Powered-By": `(?i)asp\.net`},
		Cookies: map[string]string{"ASP.NET_SessionId": `.+`},
	},
	{
		Name: "Express", Category: "framework",
		Headers: map[string]string{"X-Powered-By": `(?i)express`},
	},
	{
		Name: "Cloudflare", Category: "cdn",
		Headers: map[string]string{"Server": `(?i)cloudflare`},
		Cookies: map[string]string{"__cfduid": `.+`, "cf_clearance": `.+`},
	},
	{
		Name: "WordPress", Category: "cms",
		Body: []string{`(?i)wp-content/`, `(?i)<meta name="generator" content="WordPress(?: ([\d.]+))?`},
	},
	{
		Name: "Drupal", Category: "cms",
		Headers: map[string]string{"X-Generator": `(?i)drupal(?: ([\d.]+))?`},
		Body:    []string{`(?i)sites/default/files`},
	},
	{
		Name: "jQuery", Category: "javascript-library",
		Body: []string{`(?i)jquery[.-]([\d.]+)(?:\.min)?\.js`},
	},
	{
		Name: "React", Category: "javascript-library",
		Body: []string{`(?i)data-reactroot`, `(?i)react(?:\.production)?(?:\.min)?\.js`},
	},
	{
		Name: "Django", Category: "framework",
		Cookies: map[string]string{"csrftoken": `.+`},
	},
	{
		Name: "Laravel", Category: "framework",
		Cookies: map[string]string{"laravel_session": `.+`, "XSRF-TOKEN": `.+`},
	},
}
