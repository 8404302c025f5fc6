// Package models defines the asset graph persisted by the pipeline.
package models

import "time"

type Target struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:255" json:"name"`
	Seeds     []Seed    `json:"seeds,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SeedType string

const (
	SeedDomain  SeedType = "domain"
	SeedIPRange SeedType = "ip_range"
	SeedURL     SeedType = "url"
)

type Seed struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TargetID  uint      `gorm:"index;uniqueIndex:idx_seed_value" json:"target_id"`
	Value     string    `gorm:"size:512;uniqueIndex:idx_seed_value" json:"value"`
	Type      SeedType  `gorm:"size:16" json:"type"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subdomain rows are never hard-deleted: hosts absent from a later
// discovery pass are deactivated instead.
type Subdomain struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SeedID       uint      `gorm:"index;uniqueIndex:idx_seed_name" json:"seed_id"`
	Name         string    `gorm:"size:512;uniqueIndex:idx_seed_name" json:"name"`
	Active       bool      `gorm:"default:true;index" json:"active"`
	IsResolvable *bool     `json:"is_resolvable"`
	IsCDN        bool      `json:"is_cdn"`
	CDNName      string    `gorm:"size:128" json:"cdn_name"`
	IsWAF        bool      `json:"is_waf"`
	WAFName      string    `gorm:"size:128" json:"waf_name"`
	DNSRecords   string    `gorm:"type:text" json:"dns_records"`
	CNAME        string    `gorm:"size:512" json:"cname"`
	Sources      string    `gorm:"type:text" json:"sources"`
	LastScanType string    `gorm:"size:64" json:"last_scan_type"`
	LastScanID   string    `gorm:"size:36" json:"last_scan_id"`
	IPs          []IP      `gorm:"many2many:subdomain_ips" json:"ips,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type IP struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Address   string    `gorm:"uniqueIndex;size:64" json:"address"`
	Version   int       `json:"version"` // 4 or 6
	Ports     []Port    `json:"ports,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Port struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IPID           uint      `gorm:"index;uniqueIndex:idx_ip_port_proto" json:"ip_id"`
	Number         int       `gorm:"uniqueIndex:idx_ip_port_proto" json:"number"`
	Protocol       string    `gorm:"size:8;uniqueIndex:idx_ip_port_proto" json:"protocol"`
	State          string    `gorm:"size:32" json:"state"`
	ServiceName    string    `gorm:"size:128" json:"service_name"`
	ServiceVersion string    `gorm:"size:128" json:"service_version"`
	LastScanID     string    `gorm:"size:36" json:"last_scan_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type FetchStatus string

const (
	FetchPending      FetchStatus = "PENDING"
	FetchSuccess      FetchStatus = "SUCCESS_FETCHED"
	FetchNoContent    FetchStatus = "FAILED_NO_CONTENT"
	FetchNetworkError FetchStatus = "FAILED_NETWORK_ERROR"
)

type URLResult struct {
	ID                 uint        `gorm:"primaryKey" json:"id"`
	URL                string      `gorm:"uniqueIndex;size:2048" json:"url"`
	ContentFetchStatus FetchStatus `gorm:"size:32;default:PENDING;index" json:"content_fetch_status"`
	StatusCode         int         `json:"status_code"`
	Headers            string      `gorm:"type:text" json:"headers"`
	Body               string      `gorm:"type:text" json:"-"`
	ContentHash        string      `gorm:"size:32;index" json:"content_hash"`
	ContentType        string      `gorm:"size:255" json:"content_type"`
	Title              string      `gorm:"size:1024" json:"title"`
	TechStack          string      `gorm:"type:text" json:"tech_stack"`
	FinalURL           string      `gorm:"size:2048" json:"final_url"`
	RedirectCount      int         `json:"redirect_count"`
	ExternalRedirect   bool        `json:"external_redirect"`
	UsedFallbackFetch  bool        `json:"used_fallback_fetch"`
	Subdomains         []Subdomain `gorm:"many2many:url_subdomains" json:"-"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Child records below are replaced wholesale when a URL is re-analyzed.

type Form struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index;uniqueIndex:idx_form_key" json:"url_result_id"`
	Action      string `gorm:"size:2048;uniqueIndex:idx_form_key" json:"action"`
	Method      string `gorm:"size:16;uniqueIndex:idx_form_key" json:"method"`
	Inputs      string `gorm:"type:text" json:"inputs"`
}

type Link struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index" json:"url_result_id"`
	Href        string `gorm:"size:2048" json:"href"`
	Text        string `gorm:"size:1024" json:"text"`
	External    bool   `json:"external"`
}

type ScriptRef struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index" json:"url_result_id"`
	Src         string `gorm:"size:2048" json:"src"`
	Inline      bool   `json:"inline"`
	Content     string `gorm:"type:text" json:"content,omitempty"`
}

type HTMLComment struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index" json:"url_result_id"`
	Content     string `gorm:"type:text" json:"content"`
}

type MetaTag struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index" json:"url_result_id"`
	Name        string `gorm:"size:255" json:"name"`
	Content     string `gorm:"type:text" json:"content"`
}

type Iframe struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index" json:"url_result_id"`
	Src         string `gorm:"size:2048" json:"src"`
}

type AnalysisFinding struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	URLResultID uint   `gorm:"index;uniqueIndex:idx_finding_key" json:"url_result_id"`
	PatternName string `gorm:"size:128;uniqueIndex:idx_finding_key" json:"pattern_name"`
	LineNumber  int    `gorm:"uniqueIndex:idx_finding_key" json:"line_number"`
	Match       string `gorm:"size:1024" json:"match"`
}

type Vulnerability struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Fingerprint      string    `gorm:"uniqueIndex;size:64" json:"fingerprint"`
	TemplateID       string    `gorm:"size:255;index" json:"template_id"`
	Name             string    `gorm:"size:512" json:"name"`
	Severity         string    `gorm:"size:16;index" json:"severity"`
	MatchedAt        string    `gorm:"size:2048" json:"matched_at"`
	ExtractedResults string    `gorm:"type:text" json:"extracted_results"`
	Request          string    `gorm:"type:text" json:"request,omitempty"`
	Response         string    `gorm:"type:text" json:"response,omitempty"`
	ScanID           string    `gorm:"size:36;index" json:"scan_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
