// Package config provides configuration loading for gatekeep.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes viper with the policy file and environment
// variables. If configFile is empty, it searches for gatekeep.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the gatekeep binary itself in the current directory. When
// no file is given and none is found, viper is still pointed at the same
// search paths (so a file dropped in afterwards, or a differently-cased
// extension, is still picked up) but LoadPolicyConfig treats a missing file
// as non-fatal and falls back to defaults and environment variables.
func InitViper(configFile string) {
	viper.SetConfigName("gatekeep")
	viper.SetConfigType("yaml")

	switch {
	case configFile != "":
		viper.SetConfigFile(configFile)
	default:
		paths := configSearchPaths()
		if found := findConfigFileInPaths(paths); found != "" {
			viper.SetConfigFile(found)
		} else {
			// No file exists yet at any search path. Point viper at them
			// anyway so ReadInConfig's own search stays consistent with
			// findConfigFileInPaths; LoadPolicyConfig treats the resulting
			// ConfigFileNotFoundError as non-fatal.
			for _, dir := range paths {
				viper.AddConfigPath(dir)
			}
		}
	}

	viper.SetEnvPrefix("GATEKEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// configSearchPaths lists the standard locations searched for a gatekeep
// config file with an explicit YAML extension.
func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".gatekeep"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "gatekeep"))
		}
	} else {
		paths = append(paths, "/etc/gatekeep")
	}
	return paths
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "gatekeep"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the policy keys most useful to override via
// environment variable. Nested list fields (rules, endpoints) are still
// best set via the config file.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("version")
	_ = viper.BindEnv("network.allow_dns")
	_ = viper.BindEnv("network.blocked_ports")
	_ = viper.BindEnv("tools.timeout")
	_ = viper.BindEnv("audit.log_file")
	_ = viper.BindEnv("audit.log_level")
}

// ConfigFileUsed returns the path of the policy file that was loaded, or
// "" if none was found (environment-variable-only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
