package analyzer

import (
	"net/http"
	"strings"

	"github.com/wrenlabs/websentry/internal/model"
)

// Cookies inspects every Set-Cookie value for the Secure, HttpOnly and
// SameSite attributes. No cookies means no penalty; cookies missing any of
// the three attributes list each gap as an issue.
func Cookies(h http.Header) model.Finding {
	values := h.Values("Set-Cookie")
	if len(values) == 0 {
		return model.Finding{
			Key:      model.KeyCookies,
			Severity: model.SeverityInfo,
			Detail:   "No cookies set",
		}
	}

	joined := strings.Join(values, "\n")

	var issues []string
	if !strings.Contains(joined, "Secure") {
		issues = append(issues, "Missing Secure flag")
	}
	if !strings.Contains(joined, "HttpOnly") {
		issues = append(issues, "Missing HttpOnly flag")
	}
	if !strings.Contains(joined, "SameSite") {
		issues = append(issues, "Missing SameSite attribute")
	}

	if len(issues) > 0 {
		return model.Finding{
			Key:      model.KeyCookies,
			Present:  true,
			Issues:   issues,
			Severity: model.SeverityWarning,
			Detail:   "Cookie security issues: " + strings.Join(issues, ", "),
		}
	}
	return model.Finding{
		Key:      model.KeyCookies,
		Present:  true,
		Score:    5,
		Severity: model.SeverityPass,
		Detail:   "Cookies properly secured",
	}
}
