// Package dnscheck looks up the email-authentication DNS records (SPF and
// DMARC) for a scanned domain. DNS trouble never fails a scan: a lookup
// error reads as "record not present" with the reason kept in the detail.
package dnscheck

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/model"
)

const (
	spfPrefix   = "v=spf1"
	dmarcPrefix = "v=DMARC1"
)

// TXTResolver is the lookup dependency. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Checker struct {
	resolver TXTResolver
	timeout  time.Duration
	logger   logging.Logger
}

func NewChecker(resolver TXTResolver, timeout time.Duration, logger logging.Logger) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Checker{resolver: resolver, timeout: timeout, logger: logger}
}

// CheckDomain resolves the SPF record for domain and the DMARC record for
// _dmarc.<domain>. Each lookup gets its own timeout slice.
func (c *Checker) CheckDomain(ctx context.Context, domain string) (spf, dmarc model.Finding) {
	spf = c.lookup(ctx, model.KeyDNSSPF, domain, spfPrefix,
		"SPF protects against email spoofing", "No SPF record found", "SPF lookup failed: ")
	dmarc = c.lookup(ctx, model.KeyDNSDMARC, "_dmarc."+domain, dmarcPrefix,
		"DMARC provides email authentication", "No DMARC record found", "DMARC lookup failed: ")
	return spf, dmarc
}

func (c *Checker) lookup(ctx context.Context, key model.FindingKey, name, prefix, foundDetail, missingDetail, failPrefix string) model.Finding {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupTXT(lookupCtx, name)
	if err != nil {
		c.logger.Debug("TXT lookup failed",
			logging.Field{Key: "name", Value: name},
			logging.Field{Key: "error", Value: err.Error()})
		return model.Finding{
			Key:      key,
			Severity: model.SeverityMedium,
			Detail:   failPrefix + err.Error(),
		}
	}

	for _, record := range records {
		record = strings.Trim(record, `"`)
		if strings.HasPrefix(record, prefix) {
			return model.Finding{
				Key:      key,
				Present:  true,
				Value:    record,
				Score:    5,
				Severity: model.SeverityPass,
				Detail:   foundDetail,
			}
		}
	}
	return model.Finding{
		Key:      key,
		Severity: model.SeverityMedium,
		Detail:   missingDetail,
	}
}
