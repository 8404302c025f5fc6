package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"reconpipe/internal/analysis"
	"reconpipe/internal/chain"
	"reconpipe/internal/config"
	"reconpipe/internal/dao"
	"reconpipe/internal/models"
	"reconpipe/internal/notification"
	"reconpipe/internal/queue"
	pkgerrors "reconpipe/pkg/errors"
	"reconpipe/pkg/logger"
	"reconpipe/pkg/testutil"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubScanDAO records every scan the coordinator creates, so tests can
// observe which successor stages a handler dispatched.
type stubScanDAO struct {
	mu      sync.Mutex
	seq     int
	created []models.ScanRecord
}

func (s *stubScanDAO) CreateIfNoActive(target models.TargetRef, tool string) (*models.ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	scan := models.ScanRecord{
		UUID:   fmt.Sprintf("scan-%d", s.seq),
		Target: target,
		Tool:   tool,
		Status: models.ScanPending,
	}
	s.created = append(s.created, scan)
	return &scan, nil
}

func (s *stubScanDAO) MarkRunning(string) error           { return nil }
func (s *stubScanDAO) Complete(string, int, string) error { return nil }
func (s *stubScanDAO) Fail(string, string) error          { return nil }
func (s *stubScanDAO) GetByUUID(string) (*models.ScanRecord, error) {
	return nil, pkgerrors.ErrNotFound
}
func (s *stubScanDAO) ActiveScanExists(models.TargetRef, string) (bool, error) { return false, nil }
func (s *stubScanDAO) ListByTarget(models.TargetRef) ([]models.ScanRecord, error) {
	return nil, nil
}

func (s *stubScanDAO) dispatched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tools []string
	for _, scan := range s.created {
		tools = append(tools, scan.Tool)
	}
	return tools
}

type fakeSeeds struct {
	dao.SeedDAO
	seeds map[uint]*models.Seed
}

func (f *fakeSeeds) GetSeed(id uint) (*models.Seed, error) {
	seed, ok := f.seeds[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return seed, nil
}

type appliedDiscovery struct {
	seedID      uint
	hostSources map[string][]string
	scanID      string
}

type appliedResolution struct {
	updates    []dao.ResolutionUpdate
	unresolved []string
}

type fakeSubs struct {
	dao.SubdomainDAO
	mu              sync.Mutex
	active          map[uint][]models.Subdomain
	resolvable      map[uint][]models.Subdomain
	byID            map[uint]*models.Subdomain
	discoveries     []appliedDiscovery
	resolutions     []appliedResolution
	classifications map[uint]dao.Classification
	unchanged       map[uint]bool
}

func (f *fakeSubs) GetByID(id uint) (*models.Subdomain, error) {
	sub, ok := f.byID[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return sub, nil
}

func (f *fakeSubs) BySeed(seedID uint, activeOnly bool) ([]models.Subdomain, error) {
	return f.active[seedID], nil
}

func (f *fakeSubs) ActiveResolvable(seedID uint) ([]models.Subdomain, error) {
	return f.resolvable[seedID], nil
}

func (f *fakeSubs) ApplyDiscovery(seedID uint, hostSources map[string][]string, scanID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoveries = append(f.discoveries, appliedDiscovery{seedID, hostSources, scanID})
	return len(hostSources), nil
}

func (f *fakeSubs) ApplyResolution(seedID uint, updates []dao.ResolutionUpdate, unresolved []string, scanID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutions = append(f.resolutions, appliedResolution{updates, unresolved})
	return nil
}

func (f *fakeSubs) UpdateClassification(id uint, c dao.Classification, scanID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unchanged[id] {
		return false, nil
	}
	if f.classifications == nil {
		f.classifications = make(map[uint]dao.Classification)
	}
	f.classifications[id] = c
	return true, nil
}

type fakeIPs struct {
	dao.IPDAO
	byID     map[uint]*models.IP
	replaced map[uint][]models.Port
}

func (f *fakeIPs) GetByID(id uint) (*models.IP, error) {
	ip, ok := f.byID[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return ip, nil
}

func (f *fakeIPs) ReplacePorts(ipID uint, ports []models.Port, scanID string) error {
	if f.replaced == nil {
		f.replaced = make(map[uint][]models.Port)
	}
	f.replaced[ipID] = ports
	return nil
}

type fakeURLs struct {
	dao.URLDAO
	mu       sync.Mutex
	seq      uint
	byID     map[uint]*models.URLResult
	byURL    map[string]*models.URLResult
	children map[uint]dao.URLChildren
}

func (f *fakeURLs) GetByID(id uint) (*models.URLResult, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeURLs) Upsert(url string, subdomainID uint) (*models.URLResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byURL[url]; ok {
		return existing, false, nil
	}
	f.seq++
	u := &models.URLResult{ID: f.seq, URL: url, ContentFetchStatus: models.FetchPending}
	if f.byID == nil {
		f.byID = make(map[uint]*models.URLResult)
	}
	if f.byURL == nil {
		f.byURL = make(map[string]*models.URLResult)
	}
	f.byID[u.ID] = u
	f.byURL[url] = u
	return u, true, nil
}

func (f *fakeURLs) Save(result *models.URLResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = make(map[uint]*models.URLResult)
	}
	f.byID[result.ID] = result
	return nil
}

func (f *fakeURLs) ReplaceChildren(urlID uint, children dao.URLChildren) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.children == nil {
		f.children = make(map[uint]dao.URLChildren)
	}
	f.children[urlID] = children
	return nil
}

type fakeVulns struct {
	dao.VulnDAO
	mu       sync.Mutex
	upserted []*models.Vulnerability
	seen     map[string]bool
}

func (f *fakeVulns) Upsert(v *models.Vulnerability) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	isNew := !f.seen[v.Fingerprint]
	f.seen[v.Fingerprint] = true
	f.upserted = append(f.upserted, v)
	return isNew, nil
}

type stageFixture struct {
	deps   *Deps
	runner *testutil.MockCommandRunner
	scans  *stubScanDAO
	seeds  *fakeSeeds
	subs   *fakeSubs
	ips    *fakeIPs
	urls   *fakeURLs
	vulns  *fakeVulns
}

func newStageFixture(t *testing.T) *stageFixture {
	t.Helper()
	log := logger.NewLogger(logrus.ErrorLevel)
	scans := &stubScanDAO{}
	coordinator := chain.NewCoordinator(queue.NewMemoryQueue(), scans, log, 1, time.Minute)

	notifier, err := notification.NewClient("", "", log)
	require.NoError(t, err)

	f := &stageFixture{
		runner: testutil.NewMockCommandRunner(),
		scans:  scans,
		seeds:  &fakeSeeds{seeds: make(map[uint]*models.Seed)},
		subs:   &fakeSubs{},
		ips:    &fakeIPs{},
		urls:   &fakeURLs{},
		vulns:  &fakeVulns{},
	}
	f.deps = &Deps{
		Seeds:       f.seeds,
		Subdomains:  f.subs,
		IPs:         f.ips,
		URLs:        f.urls,
		Vulns:       f.vulns,
		Runner:      f.runner,
		Coordinator: coordinator,
		Notifier:    notifier,
		Tools: config.ToolsConfig{
			Discovery:     "subfinder",
			Resolver:      "dnsx",
			Classifier:    "cdncheck",
			URLEnumerator: "gau",
			PortScanner:   "nmap",
			VulnScanner:   "nuclei",
		},
		Classify: config.ClassifyConfig{ChunkSize: 100, Workers: 4},
		Log:      log,
	}
	return f
}

func stageTask(stage string, targetKind models.TargetKind, targetID uint) queue.Task {
	return queue.Task{
		Stage: stage,
		Params: map[string]string{
			"scan_id":     "test-scan",
			"target_kind": string(targetKind),
			"target_id":   fmt.Sprintf("%d", targetID),
		},
	}
}

func TestDiscoveryAggregatesSourcesAndChainsResolution(t *testing.T) {
	f := newStageFixture(t)
	f.seeds.seeds[1] = &models.Seed{ID: 1, Value: "example.com", Type: models.SeedDomain}
	f.runner.SetResponse("subfinder", nil, testutil.CommandResponse{
		Stdout: `{"host":"api.example.com","source":"crtsh"}
{"host":"API.example.com","source":"dnsdumpster"}
{"host":"www.example.com","source":"crtsh"}
`,
	})

	result, err := f.deps.Discovery(context.Background(), stageTask(chain.StageDiscovery, models.KindSeed, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsFound)

	require.Len(t, f.subs.discoveries, 1)
	applied := f.subs.discoveries[0]
	assert.Equal(t, uint(1), applied.seedID)
	assert.Equal(t, "test-scan", applied.scanID)
	assert.Equal(t, []string{"crtsh", "dnsdumpster"}, applied.hostSources["api.example.com"])
	assert.Equal(t, []string{"crtsh"}, applied.hostSources["www.example.com"])

	assert.Contains(t, f.scans.dispatched(), chain.StageResolution)
}

func TestDiscoveryToolFailureCommitsNothing(t *testing.T) {
	f := newStageFixture(t)
	f.seeds.seeds[1] = &models.Seed{ID: 1, Value: "example.com", Type: models.SeedDomain}
	f.runner.SetResponse("subfinder", nil, testutil.CommandResponse{
		Stderr:   "rate limited",
		ExitCode: 1,
		Error:    fmt.Errorf("exit status 1"),
	})

	_, err := f.deps.Discovery(context.Background(), stageTask(chain.StageDiscovery, models.KindSeed, 1))
	require.Error(t, err)

	var toolErr *pkgerrors.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "rate limited", toolErr.Stderr)

	assert.Empty(t, f.subs.discoveries)
	assert.Empty(t, f.scans.dispatched())
}

func TestDiscoveryRejectsNonDomainSeed(t *testing.T) {
	f := newStageFixture(t)
	f.seeds.seeds[2] = &models.Seed{ID: 2, Value: "10.0.0.0/24", Type: models.SeedIPRange}

	_, err := f.deps.Discovery(context.Background(), stageTask(chain.StageDiscovery, models.KindSeed, 2))
	require.Error(t, err)
	assert.Empty(t, f.runner.GetExecutedCommands())
}

func TestResolutionMarksAbsentHostsUnresolvable(t *testing.T) {
	f := newStageFixture(t)
	f.subs.active = map[uint][]models.Subdomain{
		1: {
			{ID: 10, Name: "api.example.com"},
			{ID: 11, Name: "dead.example.com"},
		},
	}
	f.runner.SetResponse("dnsx", nil, testutil.CommandResponse{
		Stdout: `{"host":"api.example.com","a":["1.2.3.4"],"aaaa":[],"cname":[]}
`,
	})

	result, err := f.deps.Resolution(context.Background(), stageTask(chain.StageResolution, models.KindSeed, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsFound)

	require.Len(t, f.subs.resolutions, 1)
	applied := f.subs.resolutions[0]
	require.Len(t, applied.updates, 1)
	assert.Equal(t, "api.example.com", applied.updates[0].Name)
	assert.Equal(t, []string{"1.2.3.4"}, applied.updates[0].Addresses)
	assert.True(t, applied.updates[0].Resolvable)
	assert.Equal(t, []string{"dead.example.com"}, applied.unresolved)

	// The resolver saw all hostnames in one pipelined invocation.
	commands := f.runner.GetExecutedCommands()
	require.Len(t, commands, 1)
	assert.Contains(t, commands[0].Stdin, "api.example.com")
	assert.Contains(t, commands[0].Stdin, "dead.example.com")

	assert.Contains(t, f.scans.dispatched(), chain.StageClassification)
}

func TestResolutionChainsClassificationEvenOnFailure(t *testing.T) {
	f := newStageFixture(t)
	f.subs.active = map[uint][]models.Subdomain{
		1: {{ID: 10, Name: "api.example.com"}},
	}
	f.runner.SetResponse("dnsx", nil, testutil.CommandResponse{
		ExitCode: 1,
		Error:    fmt.Errorf("exit status 1"),
	})

	_, err := f.deps.Resolution(context.Background(), stageTask(chain.StageResolution, models.KindSeed, 1))
	require.Error(t, err)

	assert.Contains(t, f.scans.dispatched(), chain.StageClassification)
}

func TestClassificationWritesOnlyChangedVerdicts(t *testing.T) {
	f := newStageFixture(t)
	f.subs.resolvable = map[uint][]models.Subdomain{
		1: {
			{ID: 10, Name: "cdn.example.com"},
			{ID: 11, Name: "origin.example.com"},
		},
	}
	f.subs.unchanged = map[uint]bool{11: true}
	f.runner.SetResponse("cdncheck", nil, testutil.CommandResponse{
		Stdout: `{"input":"cdn.example.com","cdn":true,"cdn_name":"cloudflare","waf":false,"waf_name":""}
{"input":"origin.example.com","cdn":false,"cdn_name":"","waf":false,"waf_name":""}
`,
	})

	result, err := f.deps.Classification(context.Background(), stageTask(chain.StageClassification, models.KindSeed, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsFound)

	require.Contains(t, f.subs.classifications, uint(10))
	assert.True(t, f.subs.classifications[10].IsCDN)
	assert.Equal(t, "cloudflare", f.subs.classifications[10].CDNName)

	assert.Contains(t, f.scans.dispatched(), chain.StageURLDiscovery)
}

func TestClassificationFailsWhenAllChunksFail(t *testing.T) {
	f := newStageFixture(t)
	f.subs.resolvable = map[uint][]models.Subdomain{
		1: {{ID: 10, Name: "a.example.com"}},
	}
	f.runner.SetResponse("cdncheck", nil, testutil.CommandResponse{
		ExitCode: 1,
		Error:    fmt.Errorf("exit status 1"),
	})

	_, err := f.deps.Classification(context.Background(), stageTask(chain.StageClassification, models.KindSeed, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier chunks failed")

	// URL discovery still follows: classification is best-effort enrichment.
	assert.Contains(t, f.scans.dispatched(), chain.StageURLDiscovery)
}

func TestURLDiscoveryUpsertsValidURLsAndChainsFetch(t *testing.T) {
	f := newStageFixture(t)
	f.subs.active = map[uint][]models.Subdomain{
		1: {{ID: 10, Name: "api.example.com"}},
	}
	f.runner.SetResponse("gau", nil, testutil.CommandResponse{
		Stdout: `https://api.example.com/login
https://api.example.com/login
javascript:void(0)
not a url
ftp://api.example.com/file
https://api.example.com/admin
`,
	})

	result, err := f.deps.URLDiscovery(context.Background(), stageTask(chain.StageURLDiscovery, models.KindSeed, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsFound)

	_, ok := f.urls.byURL["https://api.example.com/login"]
	assert.True(t, ok)
	_, ok = f.urls.byURL["https://api.example.com/admin"]
	assert.True(t, ok)
	assert.Len(t, f.urls.byURL, 2)

	dispatched := f.scans.dispatched()
	fetchCount := 0
	for _, tool := range dispatched {
		if tool == chain.StageFetch {
			fetchCount++
		}
	}
	assert.Equal(t, 2, fetchCount)
}

func TestAnalysisDetectsCookieSignatures(t *testing.T) {
	f := newStageFixture(t)
	f.deps.Analyzer = analysis.NewAnalyzer(analysis.NewTechScanner("", f.deps.Log), f.deps.Log)

	headers, err := json.Marshal(http.Header{
		"Content-Type": {"text/html; charset=utf-8"},
		"Set-Cookie":   {"PHPSESSID=8f2a1c9d; path=/; HttpOnly", "laravel_session=eyJpdiI6; path=/"},
	})
	require.NoError(t, err)

	f.urls.byID = map[uint]*models.URLResult{
		11: {
			ID:          11,
			URL:         "https://app.example.com/login",
			FinalURL:    "https://app.example.com/login",
			ContentType: "text/html; charset=utf-8",
			Headers:     string(headers),
			Body:        `<html><head><title>Login</title></head><body><form action="/login" method="post"><input name="email"></form></body></html>`,
		},
	}

	result, err := f.deps.Analysis(context.Background(), stageTask(chain.StageAnalysis, models.KindURL, 11))
	require.NoError(t, err)
	require.NotNil(t, result)

	saved := f.urls.byID[11]
	assert.Contains(t, saved.TechStack, "PHP")
	assert.Contains(t, saved.TechStack, "Laravel")
	assert.Equal(t, "Login", saved.Title)
	assert.Len(t, f.urls.children[11].Forms, 1)
}

func TestPortScanCommitsParsedPortsAtomically(t *testing.T) {
	f := newStageFixture(t)
	f.ips.byID = map[uint]*models.IP{7: {ID: 7, Address: "1.2.3.4"}}
	f.runner.SetResponse("nmap", nil, testutil.CommandResponse{
		Stdout: `<?xml version="1.0"?>
<nmaprun>
  <host>
    <address addr="1.2.3.4" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="443">
        <state state="open"/>
        <service name="https" product="nginx" version="1.25.3"/>
      </port>
      <port protocol="tcp" portid="22">
        <state state="open"/>
        <service name="ssh" product="OpenSSH" version="9.6"/>
      </port>
    </ports>
  </host>
</nmaprun>`,
	})

	result, err := f.deps.PortScan(context.Background(), stageTask(chain.StagePortScan, models.KindIP, 7))
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsFound)

	ports := f.ips.replaced[7]
	require.Len(t, ports, 2)
	assert.Equal(t, 443, ports[0].Number)
	assert.Equal(t, "nginx 1.25.3", ports[0].ServiceVersion)
}

func TestPortScanTruncatedXMLCommitsNothing(t *testing.T) {
	f := newStageFixture(t)
	f.ips.byID = map[uint]*models.IP{7: {ID: 7, Address: "1.2.3.4"}}
	f.runner.SetResponse("nmap", nil, testutil.CommandResponse{
		Stdout: `<?xml version="1.0"?><nmaprun><host><ports><port protocol="tcp"`,
	})

	_, err := f.deps.PortScan(context.Background(), stageTask(chain.StagePortScan, models.KindIP, 7))
	require.Error(t, err)
	assert.Empty(t, f.ips.replaced)
}

func TestVulnScanCommitsEachLineIndependently(t *testing.T) {
	f := newStageFixture(t)
	f.urls.byID = map[uint]*models.URLResult{11: {ID: 11, URL: "https://api.example.com/"}}
	f.runner.SetResponse("nuclei", nil, testutil.CommandResponse{
		Stdout: `{"template-id":"exposed-panel","matched-at":"https://api.example.com/admin","info":{"name":"Exposed Panel","severity":"high"}}
not json at all
{"template-id":"tech-detect","matched-at":"https://api.example.com/","info":{"name":"Tech Detect","severity":"info"}}
`,
		Error: fmt.Errorf("exit status 1"),
	})

	// The stream error fails the scan, but already-parsed lines stay.
	_, err := f.deps.VulnScan(context.Background(), stageTask(chain.StageVulnScan, models.KindURL, 11))
	require.Error(t, err)

	var toolErr *pkgerrors.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	require.Len(t, f.vulns.upserted, 2)
	assert.Equal(t, "exposed-panel", f.vulns.upserted[0].TemplateID)
	assert.Equal(t, "high", f.vulns.upserted[0].Severity)
}

func TestVulnScanFingerprintIsStableAcrossReruns(t *testing.T) {
	f := newStageFixture(t)
	f.urls.byID = map[uint]*models.URLResult{11: {ID: 11, URL: "https://api.example.com/"}}
	f.runner.SetResponse("nuclei", nil, testutil.CommandResponse{
		Stdout: `{"template-id":"exposed-panel","matched-at":"https://api.example.com/admin","info":{"name":"Exposed Panel","severity":"high"}}
`,
	})

	task := stageTask(chain.StageVulnScan, models.KindURL, 11)
	_, err := f.deps.VulnScan(context.Background(), task)
	require.NoError(t, err)
	_, err = f.deps.VulnScan(context.Background(), task)
	require.NoError(t, err)

	require.Len(t, f.vulns.upserted, 2)
	assert.Equal(t, f.vulns.upserted[0].Fingerprint, f.vulns.upserted[1].Fingerprint)
	assert.Len(t, f.vulns.seen, 1)
}

func TestVulnScanRefusesSeedTargets(t *testing.T) {
	f := newStageFixture(t)

	_, err := f.deps.VulnScan(context.Background(), stageTask(chain.StageVulnScan, models.KindSeed, 1))
	require.Error(t, err)
	assert.Empty(t, f.runner.GetExecutedCommands())
}
