// Package report folds findings into the final scan result: the numeric
// score, the flat boolean report, and the human-readable explanation.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/wrenlabs/websentry/internal/model"
)

const baseScore = 50

// labels maps flat report keys to the display names used in explanations.
var labels = map[string]string{
	model.FlatHTTPS:                 "HTTPS",
	model.FlatHSTS:                  "HSTS",
	model.FlatContentSecurityPolicy: "CSP",
	model.FlatXFrameOptions:         "X-Frame-Options",
	model.FlatXContentTypeOptions:   "X-Content-Type-Options",
	model.FlatReferrerPolicy:        "Referrer-Policy",
	model.FlatPermissionsPolicy:     "Permissions-Policy",
	model.FlatDNSSPF:                "SPF",
	model.FlatDNSDMARC:              "DMARC",
}

// Input carries everything a finished scan produced, before assembly.
type Input struct {
	URL        string
	Domain     string
	FinalURL   string
	StatusCode int
	Started    time.Time
	Findings   model.Findings
}

// Score sums every signed finding score onto the fixed base and clamps the
// result to [0, 100].
func Score(f model.Findings) int {
	score := baseScore
	for _, finding := range f.Headers {
		score += finding.Score
	}
	score += f.Cookies.Score
	for _, finding := range f.DNS {
		score += finding.Score
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Flat collapses the findings to the coarse boolean report. Every key except
// server_header reads "true is good"; server_header is true when the Server
// header is disclosed.
func Flat(f model.Findings) model.FlatReport {
	header := func(key model.FindingKey) bool {
		return f.Headers[key].Present
	}
	return model.FlatReport{
		model.FlatHTTPS:                 header(model.KeyHTTPS),
		model.FlatHSTS:                  header(model.KeyHSTS),
		model.FlatContentSecurityPolicy: header(model.KeyCSP),
		model.FlatXFrameOptions:         header(model.KeyXFrameOptions),
		model.FlatXContentTypeOptions:   header(model.KeyXContentTypeOptions),
		model.FlatReferrerPolicy:        header(model.KeyReferrerPolicy),
		model.FlatPermissionsPolicy:     header(model.KeyPermissionsPolicy),
		model.FlatServerHeader:          header(model.KeyServerDisclosure),
		model.FlatDNSSPF:                f.DNS[model.KeyDNSSPF].Present,
		model.FlatDNSDMARC:              f.DNS[model.KeyDNSDMARC].Present,
	}
}

// Grade buckets a score into its display band.
func Grade(score int) string {
	switch {
	case score >= 80:
		return "Excellent"
	case score >= 60:
		return "Good"
	case score >= 40:
		return "Moderate"
	default:
		return "Critical"
	}
}

// Explanation renders the plain-text summary. Categories walk the canonical
// key order so the same report always produces the same text.
func Explanation(score int, flat model.FlatReport) string {
	var passed, failed []string
	for _, key := range model.FlatReportKeys {
		if key == model.FlatServerHeader {
			continue
		}
		if flat[key] {
			passed = append(passed, labels[key])
		} else {
			failed = append(failed, labels[key])
		}
	}

	join := func(names []string) string {
		if len(names) == 0 {
			return "None"
		}
		return strings.Join(names, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Security Grade: %s (%d/100). ", Grade(score), score)
	fmt.Fprintf(&b, "Passed (%d): %s. ", len(passed), join(passed))
	fmt.Fprintf(&b, "Failed (%d): %s.", len(failed), join(failed))
	if flat[model.FlatServerHeader] {
		b.WriteString(" Warning: server version is disclosed in response headers.")
	}
	return b.String()
}

// Build assembles the complete result for a successful scan.
func Build(in Input) *model.ScanResult {
	score := Score(in.Findings)
	flat := Flat(in.Findings)
	return &model.ScanResult{
		URL:         in.URL,
		Domain:      in.Domain,
		Score:       score,
		Report:      flat,
		Findings:    in.Findings,
		Explanation: Explanation(score, flat),
		FinalURL:    in.FinalURL,
		StatusCode:  in.StatusCode,
		DurationMS:  time.Since(in.Started).Milliseconds(),
		ScannedAt:   time.Now().UTC(),
	}
}
