package firewall

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gatekeep/gatekeep/internal/domain/policy"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		Network: policy.Network{
			AllowedRanges: []string{"10.0.0.0/8", "127.0.0.0/8"},
			AllowedEndpoints: []policy.Endpoint{
				{Host: "api.example.com", Ports: []int{443}},
			},
			BlockedPorts: []int{22, 25},
			AllowDNS:     true,
			DNSAllowlist: []string{"api.example.com", "*.internal.example.com"},
		},
	}
}

func TestFirewall_BlockedPort(t *testing.T) {
	f := New(testPolicy())
	if err := f.ValidateAddress(context.Background(), "10.0.0.5", 22); err == nil {
		t.Fatal("expected blocked port to be denied")
	}
}

func TestFirewall_IPInAllowedRange(t *testing.T) {
	f := New(testPolicy())
	if err := f.ValidateAddress(context.Background(), "10.1.2.3", 443); err != nil {
		t.Fatalf("expected IP in allowed range to pass: %v", err)
	}
}

func TestFirewall_IPOutsideAllowedRange(t *testing.T) {
	f := New(testPolicy())
	if err := f.ValidateAddress(context.Background(), "8.8.8.8", 443); err == nil {
		t.Fatal("expected IP outside allowed ranges to be denied")
	}
}

func TestFirewall_IPLiteralEndpointAllowlistDoesNotBypassRanges(t *testing.T) {
	p := testPolicy()
	p.Network.AllowedEndpoints = append(p.Network.AllowedEndpoints,
		policy.Endpoint{Host: "8.8.8.8", Ports: []int{443}})
	f := New(p)
	if err := f.ValidateAddress(context.Background(), "8.8.8.8", 443); err == nil {
		t.Fatal("expected an endpoint-allowlisted IP literal outside the allowed ranges to still be denied")
	}
}

func TestFirewall_LocalhostAlwaysAllowed(t *testing.T) {
	f := New(&policy.Policy{})
	if err := f.ValidateAddress(context.Background(), "localhost", 9999); err != nil {
		t.Fatalf("expected localhost to always be allowed: %v", err)
	}
}

func TestFirewall_ExactEndpointBypassesDNSPolicy(t *testing.T) {
	p := testPolicy()
	p.Network.AllowDNS = false
	f := New(p)
	f.dns = newDNSCache(func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}, time.Now)

	if err := f.ValidateAddress(context.Background(), "api.example.com", 443); err != nil {
		t.Fatalf("expected exact allowed endpoint to bypass DNS policy: %v", err)
	}
}

func TestFirewall_DNSDisabledDeniesUnknownHostname(t *testing.T) {
	p := testPolicy()
	p.Network.AllowDNS = false
	f := New(p)

	if err := f.ValidateAddress(context.Background(), "evil.example.com", 443); err == nil {
		t.Fatal("expected DNS-disabled policy to deny a non-endpoint hostname")
	}
}

func TestFirewall_HostnameNotOnDNSAllowlist(t *testing.T) {
	f := New(testPolicy())
	if err := f.ValidateAddress(context.Background(), "evil.example.com", 443); err == nil {
		t.Fatal("expected hostname outside DNS allowlist to be denied")
	}
}

func TestFirewall_HostnameResolvesOutsideRanges(t *testing.T) {
	p := testPolicy()
	f := New(p)
	f.dns = newDNSCache(func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("8.8.8.8")}, nil
	}, time.Now)

	if err := f.ValidateAddress(context.Background(), "api.example.com", 8443); err == nil {
		t.Fatal("expected hostname resolving outside allowed ranges to be denied")
	}
}

func TestFirewall_HostnameResolvesInsideRanges(t *testing.T) {
	p := testPolicy()
	f := New(p)
	f.dns = newDNSCache(func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.1")}, nil
	}, time.Now)

	if err := f.ValidateAddress(context.Background(), "api.example.com", 8443); err != nil {
		t.Fatalf("expected hostname resolving inside allowed ranges to pass: %v", err)
	}
}

func TestFirewall_ValidateURL(t *testing.T) {
	p := testPolicy()
	f := New(p)
	f.dns = newDNSCache(func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.1")}, nil
	}, time.Now)

	if err := f.ValidateURL(context.Background(), "https://api.example.com/v1/search"); err != nil {
		t.Fatalf("expected valid https URL to pass: %v", err)
	}
}

func TestFirewall_ValidateURLRejectsNonHTTPScheme(t *testing.T) {
	f := New(testPolicy())
	if err := f.ValidateURL(context.Background(), "ftp://api.example.com/file"); err == nil {
		t.Fatal("expected non-http(s) scheme to be rejected")
	}
}

func TestFirewall_ValidateURLRejectsMalformed(t *testing.T) {
	f := New(testPolicy())
	if err := f.ValidateURL(context.Background(), "://not a url"); err == nil {
		t.Fatal("expected malformed URL to be rejected")
	}
}
