package model

import "time"

// Flat report keys. The flat report is the coarse boolean view consumed by
// report renderers and persisted alongside the scan row; the rich findings
// carry the rest. Note the historical rename: the csp finding surfaces as
// "content_security_policy" in the flat report.
const (
	FlatHTTPS                 = "https"
	FlatHSTS                  = "hsts"
	FlatContentSecurityPolicy = "content_security_policy"
	FlatXFrameOptions         = "x_frame_options"
	FlatXContentTypeOptions   = "x_content_type_options"
	FlatReferrerPolicy        = "referrer_policy"
	FlatPermissionsPolicy     = "permissions_policy"
	FlatServerHeader          = "server_header"
	FlatDNSSPF                = "dns_spf"
	FlatDNSDMARC              = "dns_dmarc"
)

// FlatReportKeys is the canonical key order for iteration. Explanations and
// tests rely on this order being stable.
var FlatReportKeys = []string{
	FlatHTTPS,
	FlatHSTS,
	FlatContentSecurityPolicy,
	FlatXFrameOptions,
	FlatXContentTypeOptions,
	FlatReferrerPolicy,
	FlatPermissionsPolicy,
	FlatServerHeader,
	FlatDNSSPF,
	FlatDNSDMARC,
}

// FlatReport maps each category to a "secure posture" boolean. True is good
// for every key except FlatServerHeader, where true means the Server header
// is disclosed (a problem). Downstream consumers branch on that inversion.
type FlatReport map[string]bool

// Findings groups the full finding set by category.
type Findings struct {
	Headers map[FindingKey]Finding `json:"headers"`
	Cookies Finding                `json:"cookies"`
	DNS     map[FindingKey]Finding `json:"dns"`
}

// ScanResult is the complete outcome of one scan. A result either has a
// score and findings, or a populated Error field; never both.
type ScanResult struct {
	URL         string     `json:"url"`
	Domain      string     `json:"domain"`
	Score       int        `json:"score"`
	Report      FlatReport `json:"report"`
	Findings    Findings   `json:"findings"`
	Explanation string     `json:"explanation"`
	FinalURL    string     `json:"final_url"`
	StatusCode  int        `json:"status_code"`
	DurationMS  int64      `json:"scan_duration_ms"`
	ScannedAt   time.Time  `json:"scanned_at"`
	Error       string     `json:"error,omitempty"`
}
