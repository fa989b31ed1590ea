// Package analyzer turns response headers and cookies into scored findings.
// Scores and severities are fixed policy, not configurable: given identical
// input the output is byte-identical, which the cache and the tests rely on.
package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"net/http"

	"github.com/wrenlabs/websentry/internal/model"
)

// valueTruncateLimit bounds header values echoed into findings; CSP and
// Permissions-Policy in the wild run to kilobytes.
const valueTruncateLimit = 200

var maxAgeRe = regexp.MustCompile(`max-age=(\d+)`)

// oneYearSeconds is the HSTS max-age threshold for full marks.
const oneYearSeconds = 31536000

var referrerSafePolicies = []string{
	"no-referrer",
	"same-origin",
	"strict-origin",
	"strict-origin-when-cross-origin",
}

// Headers scores every header-derived signal. The returned map always
// contains the seven baseline keys; x_xss_protection, server_disclosure and
// x_powered_by appear only when the corresponding header is present.
func Headers(h http.Header, finalURL string) map[model.FindingKey]model.Finding {
	findings := make(map[model.FindingKey]model.Finding, 10)

	findings[model.KeyHTTPS] = httpsFinding(finalURL)
	findings[model.KeyHSTS] = hstsFinding(h.Get("Strict-Transport-Security"))
	findings[model.KeyCSP] = cspFinding(h.Get("Content-Security-Policy"))
	findings[model.KeyXFrameOptions] = xfoFinding(h.Get("X-Frame-Options"))
	findings[model.KeyXContentTypeOptions] = xctoFinding(h.Get("X-Content-Type-Options"))
	findings[model.KeyReferrerPolicy] = referrerFinding(h.Get("Referrer-Policy"))
	findings[model.KeyPermissionsPolicy] = permissionsFinding(h)

	if f, ok := xssProtectionFinding(h.Get("X-XSS-Protection")); ok {
		findings[model.KeyXXSSProtection] = f
	}
	if server := h.Get("Server"); server != "" {
		findings[model.KeyServerDisclosure] = model.Finding{
			Key:      model.KeyServerDisclosure,
			Present:  true,
			Value:    server,
			Score:    -3,
			Severity: model.SeverityInfo,
			Detail:   "Server version disclosed: " + server,
		}
	}
	if xpb := h.Get("X-Powered-By"); xpb != "" {
		findings[model.KeyXPoweredBy] = model.Finding{
			Key:      model.KeyXPoweredBy,
			Present:  true,
			Value:    xpb,
			Score:    -3,
			Severity: model.SeverityInfo,
			Detail:   "Technology stack disclosed: " + xpb,
		}
	}

	return findings
}

func httpsFinding(finalURL string) model.Finding {
	if strings.HasPrefix(finalURL, "https://") {
		return model.Finding{
			Key:      model.KeyHTTPS,
			Present:  true,
			Score:    15,
			Severity: model.SeverityPass,
			Detail:   "HTTPS encrypts traffic",
		}
	}
	return model.Finding{
		Key:      model.KeyHTTPS,
		Severity: model.SeverityCritical,
		Detail:   "No HTTPS - traffic can be intercepted",
	}
}

func hstsFinding(hsts string) model.Finding {
	if hsts == "" {
		return model.Finding{
			Key:      model.KeyHSTS,
			Severity: model.SeverityCritical,
			Detail:   "Missing HSTS - vulnerable to protocol downgrade attacks",
		}
	}

	maxAge := 0
	if m := maxAgeRe.FindStringSubmatch(hsts); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			maxAge = v
		}
	}
	// Token matching is case-sensitive on purpose: agents only honor the
	// canonical spelling.
	hasSubdomains := strings.Contains(hsts, "includeSubDomains")
	hasPreload := strings.Contains(hsts, "preload")

	detail := fmt.Sprintf("HSTS enforces HTTPS for %d seconds", maxAge)
	if hasPreload {
		// Does not change the score; preload list inclusion is verified
		// out of band.
		detail += "; preload requested"
	}
	f := model.Finding{
		Key:     model.KeyHSTS,
		Present: true,
		Value:   hsts,
		Detail:  detail,
	}
	switch {
	case maxAge >= oneYearSeconds && hasSubdomains:
		f.Score, f.Severity = 15, model.SeverityPass
	case maxAge >= oneYearSeconds:
		f.Score, f.Severity = 10, model.SeverityInfo
	case maxAge > 0:
		f.Score, f.Severity = 5, model.SeverityWarning
	default:
		f.Score, f.Severity = 0, model.SeverityCritical
		f.Detail = "HSTS max-age is zero - header has no effect"
	}
	return f
}

func cspFinding(csp string) model.Finding {
	if csp == "" {
		return model.Finding{
			Key:      model.KeyCSP,
			Severity: model.SeverityHigh,
			Detail:   "Missing CSP - vulnerable to XSS attacks",
		}
	}

	var issues []string
	if strings.Contains(csp, "'unsafe-inline'") {
		issues = append(issues, "unsafe-inline allows inline scripts")
	}
	if strings.Contains(csp, "'unsafe-eval'") {
		issues = append(issues, "unsafe-eval allows eval()")
	}
	if csp == "*" || strings.Contains(csp, " * ") || strings.HasSuffix(csp, " *") {
		issues = append(issues, "wildcard (*) allows any source")
	}

	f := model.Finding{
		Key:     model.KeyCSP,
		Present: true,
		Value:   truncate(csp),
		Issues:  issues,
		Detail:  "CSP protects against XSS and injection attacks",
	}
	if len(issues) == 0 {
		f.Score, f.Severity = 20, model.SeverityPass
	} else {
		f.Score, f.Severity = 10, model.SeverityWarning
	}
	return f
}

func xfoFinding(raw string) model.Finding {
	xfo := strings.ToUpper(raw)
	switch {
	case xfo == "DENY" || xfo == "SAMEORIGIN":
		return model.Finding{
			Key:      model.KeyXFrameOptions,
			Present:  true,
			Value:    xfo,
			Score:    10,
			Severity: model.SeverityPass,
			Detail:   xfo + " prevents clickjacking",
		}
	case xfo != "":
		return model.Finding{
			Key:      model.KeyXFrameOptions,
			Present:  true,
			Value:    xfo,
			Score:    5,
			Severity: model.SeverityWarning,
			Detail:   "Weak X-Frame-Options value",
		}
	default:
		return model.Finding{
			Key:      model.KeyXFrameOptions,
			Severity: model.SeverityMedium,
			Detail:   "Missing X-Frame-Options - vulnerable to clickjacking",
		}
	}
}

func xctoFinding(raw string) model.Finding {
	xcto := strings.ToLower(raw)
	if xcto == "nosniff" {
		return model.Finding{
			Key:      model.KeyXContentTypeOptions,
			Present:  true,
			Value:    xcto,
			Score:    5,
			Severity: model.SeverityPass,
			Detail:   "Prevents MIME-type sniffing",
		}
	}
	return model.Finding{
		Key:      model.KeyXContentTypeOptions,
		Value:    xcto,
		Severity: model.SeverityMedium,
		Detail:   "Missing - vulnerable to MIME sniffing",
	}
}

func referrerFinding(rp string) model.Finding {
	if rp == "" {
		return model.Finding{
			Key:      model.KeyReferrerPolicy,
			Severity: model.SeverityLow,
			Detail:   "Missing - referrer data may leak",
		}
	}
	for _, p := range referrerSafePolicies {
		if strings.Contains(rp, p) {
			return model.Finding{
				Key:      model.KeyReferrerPolicy,
				Present:  true,
				Value:    rp,
				Score:    5,
				Severity: model.SeverityPass,
				Detail:   "Controls referrer information leakage",
			}
		}
	}
	return model.Finding{
		Key:      model.KeyReferrerPolicy,
		Present:  true,
		Value:    rp,
		Severity: model.SeverityLow,
		Detail:   "Policy does not restrict referrer leakage",
	}
}

func permissionsFinding(h http.Header) model.Finding {
	pp := h.Get("Permissions-Policy")
	if pp == "" {
		pp = h.Get("Feature-Policy")
	}
	if pp == "" {
		return model.Finding{
			Key:      model.KeyPermissionsPolicy,
			Severity: model.SeverityLow,
			Detail:   "Missing - no control over browser features",
		}
	}
	return model.Finding{
		Key:      model.KeyPermissionsPolicy,
		Present:  true,
		Value:    truncate(pp),
		Score:    5,
		Severity: model.SeverityPass,
		Detail:   "Controls browser features",
	}
}

// xssProtectionFinding covers the deprecated X-XSS-Protection header. The
// only correct value is "0"; anything else re-enables a filter that has
// introduced vulnerabilities of its own, so it is penalized. Absent header,
// no finding.
func xssProtectionFinding(xxp string) (model.Finding, bool) {
	switch {
	case xxp == "0":
		return model.Finding{
			Key:      model.KeyXXSSProtection,
			Present:  true,
			Value:    "0",
			Severity: model.SeverityInfo,
			Detail:   "Correctly disabled (deprecated header, CSP is better)",
		}, true
	case xxp != "":
		return model.Finding{
			Key:      model.KeyXXSSProtection,
			Present:  true,
			Value:    xxp,
			Score:    -5,
			Severity: model.SeverityWarning,
			Detail:   "Should be set to 0 or removed (deprecated, can introduce vulnerabilities)",
		}, true
	default:
		return model.Finding{}, false
	}
}

func truncate(v string) string {
	if len(v) > valueTruncateLimit {
		return v[:valueTruncateLimit] + "..."
	}
	return v
}
