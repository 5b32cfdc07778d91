// Package config loads gatekeep's policy document: the network, filesystem,
// command, tool, and audit constraints enforced by internal/domain/security.
//
// This is deliberately a single-document config, matching the narrow scope
// of a local stdio gateway. It intentionally excludes:
//
//   - NO multi-connection server listener (stdio is the only transport)
//   - NO peer authentication / identities / API keys
//   - NO TLS termination or inspection
//   - NO conditional rule language (see internal/domain/policy)
//   - NO cluster or session state
//
// For the full rationale see SPEC_FULL.md's Non-goals.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/gatekeep/gatekeep/internal/domain/policy"
)

// PolicyConfig is the raw, yaml/mapstructure-tagged shape of the policy
// document. ToPolicy converts it into the domain policy.Policy that the
// security engine actually consumes, applying ${VAR} expansion along the way.
type PolicyConfig struct {
	Version string `yaml:"version" mapstructure:"version" validate:"required"`

	Network    NetworkConfig    `yaml:"network" mapstructure:"network"`
	Filesystem FilesystemConfig `yaml:"filesystem" mapstructure:"filesystem"`
	Commands   CommandsConfig   `yaml:"commands" mapstructure:"commands"`
	Tools      ToolsConfig      `yaml:"tools" mapstructure:"tools"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
}

// NetworkConfig configures the network firewall.
type NetworkConfig struct {
	AllowedRanges    []string         `yaml:"allowed_ranges" mapstructure:"allowed_ranges" validate:"omitempty,dive,cidr"`
	AllowedEndpoints []EndpointConfig `yaml:"allowed_endpoints" mapstructure:"allowed_endpoints" validate:"omitempty,dive"`
	BlockedPorts     []int            `yaml:"blocked_ports" mapstructure:"blocked_ports"`
	AllowDNS         bool             `yaml:"allow_dns" mapstructure:"allow_dns"`
	DNSAllowlist     []string         `yaml:"dns_allowlist" mapstructure:"dns_allowlist"`
}

// EndpointConfig is a single explicitly-allowed (host, ports) pair.
type EndpointConfig struct {
	Host  string `yaml:"host" mapstructure:"host" validate:"required"`
	Ports []int  `yaml:"ports" mapstructure:"ports" validate:"required,min=1"`
}

// FilesystemConfig configures path-argument sanitization.
type FilesystemConfig struct {
	AllowedPaths []string `yaml:"allowed_paths" mapstructure:"allowed_paths"`
	DeniedPaths  []string `yaml:"denied_paths" mapstructure:"denied_paths"`
}

// CommandsConfig configures command-argument sanitization.
type CommandsConfig struct {
	Blocked []string `yaml:"blocked" mapstructure:"blocked"`
}

// ToolsConfig configures per-tool behavior.
type ToolsConfig struct {
	RateLimits map[string]int `yaml:"rate_limits" mapstructure:"rate_limits"`
	Timeout    int            `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,min=1"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	LogFile  string   `yaml:"log_file" mapstructure:"log_file"`
	LogLevel string   `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	Include  []string `yaml:"include" mapstructure:"include"`
}

// TelemetryConfig configures the OTel tracer/meter provider.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// ToPolicy converts the raw config into a domain policy.Policy, expanding
// ${VAR} references in every string leaf that can reasonably carry one
// (paths and the audit log file), matching the original policy loader.
func (c *PolicyConfig) ToPolicy() *policy.Policy {
	p := &policy.Policy{
		Version: c.Version,
		Network: policy.Network{
			AllowedRanges: c.Network.AllowedRanges,
			BlockedPorts:  c.Network.BlockedPorts,
			AllowDNS:      c.Network.AllowDNS,
			DNSAllowlist:  c.Network.DNSAllowlist,
		},
		Commands: policy.Commands{Blocked: c.Commands.Blocked},
		Tools: policy.Tools{
			RateLimits: c.Tools.RateLimits,
			Timeout:    c.Tools.Timeout,
		},
		Audit: policy.Audit{
			LogFile:  policy.ExpandEnvVars(c.Audit.LogFile),
			LogLevel: c.Audit.LogLevel,
			Include:  c.Audit.Include,
		},
		Telemetry: policy.Telemetry{
			Enabled: c.Telemetry.Enabled,
		},
	}

	for _, ep := range c.Network.AllowedEndpoints {
		p.Network.AllowedEndpoints = append(p.Network.AllowedEndpoints, policy.Endpoint{
			Host:  ep.Host,
			Ports: ep.Ports,
		})
	}

	for _, path := range c.Filesystem.AllowedPaths {
		p.Filesystem.AllowedPaths = append(p.Filesystem.AllowedPaths, policy.ExpandEnvVars(path))
	}
	for _, path := range c.Filesystem.DeniedPaths {
		p.Filesystem.DeniedPaths = append(p.Filesystem.DeniedPaths, policy.ExpandEnvVars(path))
	}

	return p
}

// LoadPolicy reads viper's active configuration (already pointed at a file
// by InitViper) and returns the resulting domain Policy.
func LoadPolicy() (*policy.Policy, error) {
	cfg, err := LoadPolicyConfig()
	if err != nil {
		return nil, err
	}
	return cfg.ToPolicy(), nil
}

// defaultPolicyVersion fills the policy document's required version field
// when running in environment-variable-only mode (no policy file found and
// no GATEKEEP_VERSION override). It is never applied over an actual policy
// file, so a file that omits version still fails validation as required.
const defaultPolicyVersion = "1.0"

// LoadPolicyConfig reads and validates the raw policy document without
// converting it, useful for `gatekeep validate-policy`. A missing policy
// file is not an error: it means running on defaults and environment
// variables alone, which ConfigFileUsed() reports back to the caller as ""
// so it can log that fallback.
func LoadPolicyConfig() (*PolicyConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		viper.SetDefault("version", defaultPolicyVersion)
	}

	var cfg PolicyConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}

	return &cfg, nil
}
