package target_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenlabs/websentry/internal/scanerr"
	"github.com/wrenlabs/websentry/internal/target"
)

// fakeResolver returns canned addresses per hostname and records lookups.
type fakeResolver struct {
	addrs   map[string][]string
	err     error
	lookups []string
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	f.lookups = append(f.lookups, host)
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(raw))
	for _, s := range raw {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

func publicResolver(host string) *fakeResolver {
	return &fakeResolver{addrs: map[string][]string{host: {"93.184.216.34"}}}
}

func TestValidate_PublicHost(t *testing.T) {
	t.Parallel()
	v := target.NewValidator(publicResolver("example.com"), false, nil)

	res, err := v.Validate(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", res.NormalizedURL)
	assert.Equal(t, "example.com", res.Host)
}

func TestValidate_KeepsExplicitSchemeAndPort(t *testing.T) {
	t.Parallel()
	v := target.NewValidator(publicResolver("example.com"), false, nil)

	res, err := v.Validate(context.Background(), "https://EXAMPLE.com:8443/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443/path?q=1", res.NormalizedURL)
	assert.Equal(t, "example.com", res.Host)
}

func TestValidate_RejectsNonHTTPScheme(t *testing.T) {
	t.Parallel()
	v := target.NewValidator(&fakeResolver{}, false, nil)

	_, err := v.Validate(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.Equal(t, scanerr.KindInvalidInput, scanerr.KindOf(err))
}

func TestValidate_RejectsCredentialSmugglingBeforeDNS(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{addrs: map[string][]string{"good.com": {"93.184.216.34"}}}
	v := target.NewValidator(resolver, false, nil)

	_, err := v.Validate(context.Background(), "evil.com@good.com")
	require.Error(t, err)
	assert.Equal(t, scanerr.KindInvalidInput, scanerr.KindOf(err))
	assert.Empty(t, resolver.lookups, "no DNS lookup may happen for credential-bearing URLs")
}

func TestValidate_RejectsEmptyAndMalformed(t *testing.T) {
	t.Parallel()
	v := target.NewValidator(&fakeResolver{}, false, nil)

	for _, raw := range []string{"", "   ", "http://"} {
		_, err := v.Validate(context.Background(), raw)
		require.Error(t, err, "input %q", raw)
		assert.Equal(t, scanerr.KindInvalidInput, scanerr.KindOf(err))
	}
}

func TestValidate_RejectsUnresolvableHost(t *testing.T) {
	t.Parallel()
	v := target.NewValidator(&fakeResolver{err: errors.New("lookup failed")}, false, nil)

	_, err := v.Validate(context.Background(), "http://nope.invalid")
	require.Error(t, err)
	assert.Equal(t, scanerr.KindDNSFailure, scanerr.KindOf(err))
}

func TestValidate_RejectsUnsafeAddresses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ip   string
	}{
		{"loopback", "127.0.0.1"},
		{"loopback high", "127.255.255.254"},
		{"private 10", "10.0.0.5"},
		{"private 172", "172.16.0.1"},
		{"private 192", "192.168.1.1"},
		{"link-local", "169.254.10.10"},
		{"cloud metadata", "169.254.169.254"},
		{"multicast", "224.0.0.1"},
		{"unspecified", "0.0.0.0"},
		{"reserved", "240.0.0.1"},
		{"v6 loopback", "::1"},
		{"v6 unique local", "fd00::1"},
		{"v6 link-local", "fe80::1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resolver := &fakeResolver{addrs: map[string][]string{"host.test": {tc.ip}}}
			v := target.NewValidator(resolver, false, nil)

			_, err := v.Validate(context.Background(), "http://host.test")
			require.Error(t, err)
			assert.Equal(t, scanerr.KindSSRFRejected, scanerr.KindOf(err))
		})
	}
}

func TestValidate_WorstAddressWins(t *testing.T) {
	t.Parallel()
	// One public record does not redeem a host that also resolves to an
	// internal address.
	resolver := &fakeResolver{addrs: map[string][]string{
		"cdn.test": {"93.184.216.34", "203.0.113.10", "10.0.0.1"},
	}}
	v := target.NewValidator(resolver, false, nil)

	_, err := v.Validate(context.Background(), "http://cdn.test")
	require.Error(t, err)
	assert.Equal(t, scanerr.KindSSRFRejected, scanerr.KindOf(err))
}

func TestValidate_AllowPrivateTargets(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{addrs: map[string][]string{"localhost": {"127.0.0.1"}}}
	v := target.NewValidator(resolver, true, nil)

	res, err := v.Validate(context.Background(), "http://localhost:9999")
	require.NoError(t, err)
	assert.Equal(t, "localhost", res.Host)
}

func TestValidate_NormalizesIDNHost(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{addrs: map[string][]string{"xn--mnchen-3ya.test": {"93.184.216.34"}}}
	v := target.NewValidator(resolver, false, nil)

	res, err := v.Validate(context.Background(), "http://münchen.test")
	require.NoError(t, err)
	assert.Equal(t, "xn--mnchen-3ya.test", res.Host)
}

func TestCheckHost_MixedFamilies(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{addrs: map[string][]string{
		"dual.test": {"2606:2800:220:1:248:1893:25c8:1946", "93.184.216.34"},
	}}
	v := target.NewValidator(resolver, false, nil)
	require.NoError(t, v.CheckHost(context.Background(), "dual.test"))
}
