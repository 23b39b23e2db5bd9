package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/teranos/scbe/errs"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the process configuration using Viper. The first call
// wins and is cached; use Reset in tests that need a clean slate.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific TOML file, bypassing
// the project-discovery search and the cached global instance.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Wrapf(err, "failed to read config file %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrapf(err, "failed to unmarshal config from %s", path)
	}
	return &cfg, nil
}

// Reset clears the cached configuration. Useful in tests.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// WriteDefaultConfigFile scaffolds a starter scbe.toml at path, encoding
// the same defaults SetDefaults installs into Viper. It calls
// BurntSushi/toml directly rather than going through Viper, the way
// am/load.go's writePluginConfigFile encodes a plugin's settings map
// straight to TOML — `scbe init-config` uses this to give a deployer
// something to edit in place instead of writing scbe.toml by hand.
func WriteDefaultConfigFile(path string) error {
	defaults := map[string]interface{}{
		"session": map[string]interface{}{
			"max_participants":               50,
			"outbound_queue_size":            64,
			"location_ttl_seconds":           30,
			"idle_grace_seconds":             60,
			"absence_timeout_seconds":        60,
			"session_backlog_max":            4096,
			"protocol_error_limit":           5,
			"protocol_error_window_seconds":  10,
		},
		"server": map[string]interface{}{
			"listen_address": ":8877",
			"allowed_origins": []string{
				"http://localhost",
				"https://localhost",
				"http://127.0.0.1",
				"https://127.0.0.1",
			},
			"shutdown_timeout_seconds": 10,
		},
		"transport": map[string]interface{}{
			"write_deadline_seconds":  5,
			"inbound_rate_per_second": 20.0,
			"inbound_rate_burst":      10,
			"ping_interval_seconds":   30,
			"pong_timeout_seconds":    60,
		},
		"database": map[string]interface{}{
			"path": "scbe.db",
		},
		"auth": map[string]interface{}{
			"token_expiry":   "15m",
			"refresh_expiry": "720h",
		},
		"logging": map[string]interface{}{
			"json": false,
		},
	}

	buf := &strings.Builder{}
	if err := toml.NewEncoder(buf).Encode(defaults); err != nil {
		return errs.Wrap(err, "encode default config as toml")
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return errs.Wrapf(err, "write config file %s", path)
	}
	return nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("SCBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)

	if path := findProjectConfig(); path != "" {
		fv := viper.New()
		fv.SetConfigFile(path)
		fv.SetConfigType("toml")
		if err := fv.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(fv.AllSettings())
		}
	}

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for
// scbe.toml, preferring the nearest one.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, "scbe.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
