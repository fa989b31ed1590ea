package model

// Severity buckets a finding by how urgently it needs attention.
// "pass" means the signal is in good shape; everything else is a defect of
// increasing weight.
type Severity string

const (
	SeverityPass     Severity = "pass"
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FindingKey identifies one security signal. The set is closed: analyzers
// may only emit keys declared here, so a renamed or missing signal is a
// compile-time error rather than a silently absent map entry.
type FindingKey string

const (
	KeyHTTPS               FindingKey = "https"
	KeyHSTS                FindingKey = "hsts"
	KeyCSP                 FindingKey = "csp"
	KeyXFrameOptions       FindingKey = "x_frame_options"
	KeyXContentTypeOptions FindingKey = "x_content_type_options"
	KeyReferrerPolicy      FindingKey = "referrer_policy"
	KeyPermissionsPolicy   FindingKey = "permissions_policy"
	KeyXXSSProtection      FindingKey = "x_xss_protection"
	KeyServerDisclosure    FindingKey = "server_disclosure"
	KeyXPoweredBy          FindingKey = "x_powered_by"
	KeyCookies             FindingKey = "cookies"
	KeyDNSSPF              FindingKey = "dns_spf"
	KeyDNSDMARC            FindingKey = "dns_dmarc"
)

// HeaderFindingKeys lists the header-derived keys that are always present in
// a scan, in report order. The disclosure keys (server_disclosure,
// x_powered_by) and x_xss_protection are informational-only and appear only
// when the corresponding header exists.
var HeaderFindingKeys = []FindingKey{
	KeyHTTPS,
	KeyHSTS,
	KeyCSP,
	KeyXFrameOptions,
	KeyXContentTypeOptions,
	KeyReferrerPolicy,
	KeyPermissionsPolicy,
}

// Finding is one named security signal with its fixed-policy score.
type Finding struct {
	Key      FindingKey `json:"key"`
	Present  bool       `json:"present"`
	Value    string     `json:"value,omitempty"`
	Score    int        `json:"score"`
	Severity Severity   `json:"severity"`
	Detail   string     `json:"details"`
	Issues   []string   `json:"issues,omitempty"`
}
