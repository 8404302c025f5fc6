package parsers

// DiscoveryRecord is one NDJSON line from the subdomain enumerator.
type DiscoveryRecord struct {
	Host   string `json:"host"`
	Source string `json:"source"`
}

// ResolutionRecord is one NDJSON line from the DNS resolver.
type ResolutionRecord struct {
	Host  string   `json:"host"`
	A     []string `json:"a"`
	AAAA  []string `json:"aaaa"`
	CNAME []string `json:"cname"`
}

// Resolvable reports whether any record type resolved for the host.
func (r *ResolutionRecord) Resolvable() bool {
	return len(r.A) > 0 || len(r.AAAA) > 0 || len(r.CNAME) > 0
}

// ClassificationRecord is one NDJSON line from the CDN/WAF classifier.
type ClassificationRecord struct {
	Input   string `json:"input"`
	CDN     bool   `json:"cdn"`
	CDNName string `json:"cdn_name"`
	WAF     bool   `json:"waf"`
	WAFName string `json:"waf_name"`
}

type NmapRun struct {
	Hosts []Host `xml:"host" json:"hosts"`
}

type Host struct {
	Addresses []Address `xml:"address" json:"addresses"`
	Ports     Ports     `xml:"ports" json:"ports"`
	Hostnames Hostnames `xml:"hostnames" json:"hostnames"`
}

type Address struct {
	Addr     string `xml:"addr,attr" json:"addr"`
	AddrType string `xml:"addrtype,attr" json:"addrtype"`
}

type Ports struct {
	PortList []Port `xml:"port" json:"port_list"`
}

type Port struct {
	Protocol string  `xml:"protocol,attr" json:"protocol"`
	PortID   string  `xml:"portid,attr" json:"port_id"`
	State    State   `xml:"state" json:"state"`
	Service  Service `xml:"service" json:"service"`
}

type State struct {
	State     string `xml:"state,attr" json:"state"`
	Reason    string `xml:"reason,attr" json:"reason"`
	ReasonTTL string `xml:"reason_ttl,attr" json:"reason_ttl"`
}

type Service struct {
	Name    string `xml:"name,attr" json:"name"`
	Product string `xml:"product,attr" json:"product"`
	Version string `xml:"version,attr" json:"version"`
	Method  string `xml:"method,attr" json:"method"`
	Conf    string `xml:"conf,attr" json:"conf"`
}

type Hostnames struct {
	HostnameList []Hostname `xml:"hostname" json:"hostname_list"`
}

type Hostname struct {
	Name string `xml:"name,attr" json:"name"`
	Type string `xml:"type,attr" json:"type"`
}

type NucleiInfo struct {
	Name        string   `json:"name"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type NucleiResult struct {
	TemplateID       string     `json:"template-id"`
	TemplatePath     string     `json:"template-path"`
	Info             NucleiInfo `json:"info"`
	MatcherName      string     `json:"matcher-name"`
	Type             string     `json:"type"`
	Host             string     `json:"host"`
	Port             string     `json:"port"`
	Scheme           string     `json:"scheme"`
	URL              string     `json:"url"`
	MatchedAt        string     `json:"matched-at"`
	ExtractedResults []string   `json:"extracted-results"`
	Request          string     `json:"request"`
	Response         string     `json:"response"`
	IP               string     `json:"ip"`
	Timestamp        string     `json:"timestamp"`
	MatcherStatus    bool       `json:"matcher-status"`
}
