// Package policy contains the declarative security policy gatekeep enforces.
// Unlike a rule-engine RBAC model, a policy here is flat configuration data:
// network ranges, filesystem globs, blocked commands, per-tool rate limits,
// and audit settings. There is no conditional rule language -- a request is
// either inside these constraints or it isn't.
package policy

import (
	"os"
	"regexp"
	"strings"
)

// Policy is the full set of security constraints loaded from the policy
// document (see internal/config for how it is parsed from YAML).
type Policy struct {
	// Version identifies the policy schema version. Required.
	Version string

	Network    Network
	Filesystem Filesystem
	Commands   Commands
	Tools      Tools
	Audit      Audit
	Telemetry  Telemetry
}

// Network configures the network firewall.
type Network struct {
	// AllowedRanges are CIDR blocks outbound connections may target.
	AllowedRanges []string
	// AllowedEndpoints are exact (host, ports) pairs that bypass AllowedRanges.
	AllowedEndpoints []Endpoint
	// BlockedPorts are destination ports denied regardless of range/endpoint.
	BlockedPorts []int
	// AllowDNS gates whether hostname resolution is permitted at all.
	AllowDNS bool
	// DNSAllowlist is the set of hostnames resolvable when AllowDNS is true.
	DNSAllowlist []string
}

// Endpoint is a single explicitly-allowed (host, ports) pair.
type Endpoint struct {
	Host  string
	Ports []int
}

// Filesystem configures path-argument sanitization.
type Filesystem struct {
	// AllowedPaths are glob patterns a sanitized path must match at least one of.
	AllowedPaths []string
	// DeniedPaths are glob patterns checked before AllowedPaths; any match denies.
	DeniedPaths []string
}

// Commands configures command-argument sanitization.
type Commands struct {
	// Blocked is a list of command names or substrings denied outright.
	Blocked []string
}

// Tools configures per-tool behavior.
type Tools struct {
	// RateLimits maps tool name to requests-per-minute. "default" applies to
	// any tool without its own entry.
	RateLimits map[string]int
	// Timeout is the advisory per-call timeout in seconds (§5: not enforced
	// by the core dispatch loop, a hint plugins may honor themselves).
	Timeout int
}

// Audit configures audit logging. An empty LogFile disables the audit
// logger entirely -- every Security Engine logging call becomes a no-op.
type Audit struct {
	LogFile  string
	LogLevel string
	Include  []string
}

// Telemetry configures the OTel tracer/meter provider. Disabled by
// default, since the spans and counters it produces are diagnostic, not
// required for correct operation.
type Telemetry struct {
	Enabled bool
}

// defaultRateLimit is used when a tool has neither its own entry nor a
// "default" entry in Tools.RateLimits.
const defaultRateLimit = 60

// defaultTimeoutSeconds is used when Tools.Timeout is unset (zero).
const defaultTimeoutSeconds = 30

// IsPortBlocked reports whether port is in the blocked-ports list.
func (p *Policy) IsPortBlocked(port int) bool {
	for _, blocked := range p.Network.BlockedPorts {
		if blocked == port {
			return true
		}
	}
	return false
}

// IsEndpointAllowed reports whether (host, port) is an explicitly allowed
// endpoint, bypassing the CIDR range check.
func (p *Policy) IsEndpointAllowed(host string, port int) bool {
	for _, ep := range p.Network.AllowedEndpoints {
		if ep.Host != host {
			continue
		}
		for _, allowedPort := range ep.Ports {
			if allowedPort == port {
				return true
			}
		}
	}
	return false
}

// IsDNSAllowed reports whether hostname may be resolved under this policy.
func (p *Policy) IsDNSAllowed(hostname string) bool {
	if !p.Network.AllowDNS {
		return false
	}
	for _, allowed := range p.Network.DNSAllowlist {
		if allowed == hostname {
			return true
		}
	}
	return false
}

// IsCommandBlocked reports whether command matches an entry in the
// blocked-commands list, either as a substring of the full command or as
// an exact match of its first whitespace-separated token.
func (p *Policy) IsCommandBlocked(command string) bool {
	baseCommand := command
	if fields := strings.Fields(command); len(fields) > 0 {
		baseCommand = fields[0]
	}
	for _, blocked := range p.Commands.Blocked {
		if strings.Contains(command, blocked) || baseCommand == blocked {
			return true
		}
	}
	return false
}

// RateLimit returns the requests-per-minute limit for toolName, falling back
// to the "default" entry and finally to defaultRateLimit.
func (p *Policy) RateLimit(toolName string) int {
	if limit, ok := p.Tools.RateLimits[toolName]; ok {
		return limit
	}
	if limit, ok := p.Tools.RateLimits["default"]; ok {
		return limit
	}
	return defaultRateLimit
}

// TimeoutSeconds returns the advisory tool call timeout.
func (p *Policy) TimeoutSeconds() int {
	if p.Tools.Timeout > 0 {
		return p.Tools.Timeout
	}
	return defaultTimeoutSeconds
}

// envVarPattern matches ${VAR_NAME} references inside a policy string leaf.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnvVars expands ${VAR} references in value from the process
// environment. HOME is special-cased to the current user's home directory
// when unset in the environment. Unknown variables are left unchanged.
func ExpandEnvVars(value string) string {
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if name == "HOME" {
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		}
		return match
	})
}
