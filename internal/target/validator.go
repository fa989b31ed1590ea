// Package target validates attacker-controlled URLs before any network
// request touches them. The validator resolves every address a hostname can
// return and rejects the whole target if any resolved address is private,
// loopback, link-local, multicast or reserved ("worst address wins"): a
// multi-record host with one internal address is treated as hostile, since
// anything weaker reopens DNS-rebinding SSRF.
package target

import (
	"context"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/scanerr"
)

// Resolver is the DNS dependency. *net.Resolver satisfies it; tests inject
// fakes so no real lookups happen.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Result is a successful validation outcome.
type Result struct {
	// NormalizedURL has the scheme defaulted and the host lowercased and
	// punycoded. Safe to hand to the fetch client.
	NormalizedURL string

	// Host is the normalized hostname, used as the cache key.
	Host string
}

type Validator struct {
	resolver Resolver
	// allowPrivate skips the address checks. Development only.
	allowPrivate bool
	logger       logging.Logger
}

func NewValidator(resolver Resolver, allowPrivate bool, logger logging.Logger) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Validator{resolver: resolver, allowPrivate: allowPrivate, logger: logger}
}

var (
	metadataBlock = mustCIDR("169.254.0.0/16")
	loopbackBlock = mustCIDR("127.0.0.0/8")
	// Blocks python's ipaddress considers reserved that net.IP has no
	// predicate for.
	reservedV4 = mustCIDR("240.0.0.0/4")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Validate normalizes and approves or rejects a raw URL. Rejections carry a
// scanerr kind: KindInvalidInput for malformed input, KindSSRFRejected for
// hosts resolving to unsafe addresses, KindDNSFailure when the hostname does
// not resolve at all. The result of a Validate call must not be cached
// across time: DNS answers change, so redirect hops re-run the address
// checks via CheckHost.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, scanerr.New(scanerr.KindInvalidInput, "URL required")
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, scanerr.Wrap(scanerr.KindInvalidInput, "invalid URL format", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, scanerr.New(scanerr.KindInvalidInput, "only HTTP/HTTPS protocols allowed")
	}

	// Embedded credentials are the classic "evil.com@good.com" smuggling
	// shape; reject before any DNS work happens.
	if u.User != nil {
		return nil, scanerr.New(scanerr.KindInvalidInput, "invalid characters in hostname")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return nil, scanerr.New(scanerr.KindInvalidInput, "invalid hostname")
	}
	if strings.ContainsAny(hostname, "@ \r\n\t") {
		return nil, scanerr.New(scanerr.KindInvalidInput, "invalid characters in hostname")
	}

	host := normalizeHost(hostname)

	if err := v.CheckHost(ctx, host); err != nil {
		return nil, err
	}

	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}

	return &Result{NormalizedURL: u.String(), Host: host}, nil
}

// CheckHost resolves host and applies the address safety checks to every
// answer. It is invoked once by Validate and again on every redirect hop,
// because the client's own resolution may see different records than the
// initial validation did (TOCTOU / rebinding).
func (v *Validator) CheckHost(ctx context.Context, host string) error {
	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return scanerr.Wrap(scanerr.KindDNSFailure, "cannot resolve hostname", err)
	}

	if v.allowPrivate {
		return nil
	}

	for _, addr := range addrs {
		// addr.Zone already carries any IPv6 zone suffix separately, so
		// addr.IP is the bare address.
		if reason := unsafeAddressReason(addr.IP); reason != "" {
			v.logger.Warn("rejected unsafe target address",
				logging.Field{Key: "host", Value: host},
				logging.Field{Key: "ip", Value: addr.IP.String()})
			return scanerr.New(scanerr.KindSSRFRejected, reason)
		}
	}
	return nil
}

// unsafeAddressReason returns a rejection reason for ip, or "" if the
// address is publicly routable. The metadata and loopback ranges overlap
// the general predicates but get their own checks and messages.
func unsafeAddressReason(ip net.IP) string {
	if ip == nil {
		return "invalid IP address"
	}

	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return "access to private/internal addresses not allowed (" + ip.String() + ")"
	}

	if ip4 := ip.To4(); ip4 != nil {
		if metadataBlock.Contains(ip4) {
			return "access to cloud metadata services not allowed"
		}
		if loopbackBlock.Contains(ip4) {
			return "access to localhost not allowed"
		}
		if reservedV4.Contains(ip4) {
			return "access to private/internal addresses not allowed (" + ip.String() + ")"
		}
	}

	return ""
}

// normalizeHost lowercases the hostname and converts IDN labels to their
// punycode form so equivalent spellings share one cache entry.
func normalizeHost(hostname string) string {
	host := strings.ToLower(hostname)
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	return host
}
