// Package firewall implements gatekeep's outbound network policy: CIDR
// allow-ranges, exact allow-endpoints, blocked ports, DNS gating, and URL
// validation. Grounded on original_source's src/security/firewall.py.
package firewall

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/gatekeep/gatekeep/internal/domain/policy"
)

// Error is returned for any firewall denial. The message is safe to surface
// to the client and to the audit log.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func denyf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Firewall validates outbound network destinations against a Policy.
type Firewall struct {
	policy *policy.Policy
	ranges []*net.IPNet
	dns    *DNSCache
}

// New builds a Firewall for p, pre-parsing its CIDR ranges. Malformed CIDR
// entries are skipped; Validate is the config loader's validation point.
func New(p *policy.Policy) *Firewall {
	f := &Firewall{policy: p, dns: NewDNSCache()}
	for _, cidr := range p.Network.AllowedRanges {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			f.ranges = append(f.ranges, ipnet)
		}
	}
	return f
}

// ValidateAddress checks whether an outbound connection to (host, port) is
// permitted. host may be an IP literal or a hostname.
func (f *Firewall) ValidateAddress(ctx context.Context, host string, port int) error {
	if f.policy.IsPortBlocked(port) {
		return denyf("port %d is blocked by policy", port)
	}

	if ip := net.ParseIP(host); ip != nil {
		return f.validateIP(ip, host, port)
	}
	return f.validateHostname(ctx, host, port)
}

func (f *Firewall) validateIP(ip net.IP, host string, port int) error {
	if f.ipInAllowedRanges(ip) {
		return nil
	}
	return denyf("destination %s:%d is not in an allowed network range", host, port)
}

func (f *Firewall) validateHostname(ctx context.Context, host string, port int) error {
	if host == "localhost" {
		return nil
	}

	if f.policy.IsEndpointAllowed(host, port) {
		// Still resolve, to surface a clear error if the hostname has gone dark --
		// but the endpoint allowlist bypasses the range check.
		if _, err := f.resolve(ctx, host); err != nil {
			return denyf("failed to resolve allowed endpoint %s: %v", host, err)
		}
		return nil
	}

	if err := f.enforceDNSPolicy(host); err != nil {
		return err
	}

	ips, err := f.resolve(ctx, host)
	if err != nil {
		return denyf("failed to resolve hostname %s: %v", host, err)
	}

	for _, ip := range ips {
		if f.ipInAllowedRanges(ip) {
			return nil
		}
	}
	return denyf("hostname %s resolves outside allowed network ranges", host)
}

func (f *Firewall) enforceDNSPolicy(host string) error {
	if !f.policy.Network.AllowDNS {
		return denyf("DNS resolution is disabled by policy")
	}
	if !f.policy.IsDNSAllowed(host) {
		return denyf("hostname %s is not in the DNS allowlist", host)
	}
	return nil
}

func (f *Firewall) ipInAllowedRanges(ip net.IP) bool {
	for _, r := range f.ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

func (f *Firewall) resolve(ctx context.Context, host string) ([]net.IP, error) {
	return f.dns.Resolve(ctx, host)
}

// ValidateURL parses rawURL, requires an http/https scheme and a hostname,
// defaults the port to 80/443, and delegates to ValidateAddress.
func (f *Firewall) ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return denyf("invalid URL: %v", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return denyf("unsupported URL scheme: %s", u.Scheme)
	}
	if u.Hostname() == "" {
		return denyf("URL has no hostname: %s", rawURL)
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return denyf("invalid port in URL: %s", rawURL)
	}

	return f.ValidateAddress(ctx, u.Hostname(), portNum)
}
