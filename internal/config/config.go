// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package config loads and validates the server configuration. Values are
// merged from an optional YAML file, the process environment, and
// command-line flags, in that order of increasing precedence. YAML files
// are checked against a generated JSON Schema before they are decoded.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/shopdex/shopdex/internal/auth"
	"github.com/shopdex/shopdex/internal/xdg"
)

// Config is the root of the server configuration tree. Field tags drive
// both koanf decoding and schema generation, so the koanf and json names
// must stay in sync with the YAML keys.
type Config struct {
	Server        ServerConfig        `koanf:"server" json:"server,omitempty"`
	Database      DatabaseConfig      `koanf:"database" json:"database,omitempty"`
	Auth          AuthConfig          `koanf:"auth" json:"auth,omitempty"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability,omitempty"`
	Log           LogConfig           `koanf:"log" json:"log,omitempty"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `koanf:"addr" json:"addr,omitempty"`
	// BaseURL is the public origin used when building password reset links.
	BaseURL string `koanf:"base_url" json:"base_url,omitempty" jsonschema:"format=uri"`
	// CSRFEnabled turns on double-submit CSRF protection for browser clients.
	CSRFEnabled bool            `koanf:"csrf_enabled" json:"csrf_enabled,omitempty"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" json:"rate_limit,omitempty"`
}

// RateLimitConfig throttles requests per client IP when enabled.
type RateLimitConfig struct {
	Enabled bool     `koanf:"enabled" json:"enabled,omitempty"`
	Max     int      `koanf:"max" json:"max,omitempty"`
	Window  Duration `koanf:"window" json:"window,omitempty"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url" json:"url,omitempty"`
}

// AuthConfig holds token signing keys, token lifetimes and the login
// lockout policy. The signing keys normally arrive through the environment
// rather than the file.
type AuthConfig struct {
	AccessTokenKey   string   `koanf:"access_token_key" json:"access_token_key,omitempty"`
	RefreshTokenKey  string   `koanf:"refresh_token_key" json:"refresh_token_key,omitempty"`
	AccessTokenTTL   Duration `koanf:"access_token_ttl" json:"access_token_ttl,omitempty"`
	RefreshTokenTTL  Duration `koanf:"refresh_token_ttl" json:"refresh_token_ttl,omitempty"`
	LockoutThreshold int      `koanf:"lockout_threshold" json:"lockout_threshold,omitempty"`
	LockoutDuration  Duration `koanf:"lockout_duration" json:"lockout_duration,omitempty"`
	ResetTokenTTL    Duration `koanf:"reset_token_ttl" json:"reset_token_ttl,omitempty"`
	RevokeOnReuse    bool     `koanf:"revoke_on_reuse" json:"revoke_on_reuse,omitempty"`
}

// ObservabilityConfig holds the metrics listener settings.
type ObservabilityConfig struct {
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
}

// Default returns the configuration with every non-secret key at its
// documented default. Load decodes the merged sources over this value, so
// keys absent from every source keep these defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
			RateLimit: RateLimitConfig{
				Max:    20,
				Window: Duration(time.Minute),
			},
		},
		Auth: AuthConfig{
			AccessTokenTTL:   Duration(auth.DefaultAccessTokenTTL),
			RefreshTokenTTL:  Duration(auth.DefaultRefreshTokenTTL),
			LockoutThreshold: auth.DefaultLockoutThreshold,
			LockoutDuration:  Duration(auth.DefaultLockoutDuration),
			ResetTokenTTL:    Duration(auth.DefaultResetTokenTTL),
			RevokeOnReuse:    true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9100",
		},
		Log: LogConfig{
			Format: "json",
		},
	}
}

// envBindings maps recognised environment variables to config keys. Later
// entries win when two variables target the same key, so the SHOPDEX_
// prefixed form overrides the bare DATABASE_URL.
var envBindings = []struct {
	envVar string
	key    string
}{
	{"DATABASE_URL", "database.url"},
	{"SHOPDEX_DATABASE_URL", "database.url"},
	{"SHOPDEX_ACCESS_TOKEN_KEY", "auth.access_token_key"},
	{"SHOPDEX_REFRESH_TOKEN_KEY", "auth.refresh_token_key"},
}

// flagBindings maps command-line flag names to config keys.
var flagBindings = map[string]string{
	"addr":         "server.addr",
	"base-url":     "server.base_url",
	"database-url": "database.url",
	"metrics-addr": "observability.metrics_addr",
	"log-format":   "log.format",
}

// BindFlags registers the flags Load recognises on fs. The defaults shown
// in help output mirror Default; a flag only overrides the file and
// environment when set explicitly.
func BindFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("addr", def.Server.Addr, "HTTP listen address")
	fs.String("base-url", def.Server.BaseURL, "public base URL used in password reset links")
	fs.String("database-url", "", "PostgreSQL connection string")
	fs.String("metrics-addr", def.Observability.MetricsAddr, "metrics and health listen address")
	fs.String("log-format", def.Log.Format, "log output format: json or text")
}

// DefaultPath returns the conventional config file location,
// $XDG_CONFIG_HOME/shopdex/config.yaml, when that file exists. It returns
// the empty string otherwise, which Load treats as "no file".
func DefaultPath() string {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Load merges the configuration from the YAML file at path (skipped when
// empty), the process environment, and explicitly set flags (skipped when
// nil). The result is not validated; callers decide when to run Validate.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "reading config file")
		}
		if err := ValidateSchema(raw); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Errorf("%s", FormatSchemaError(err))
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "parsing config file")
		}
	}

	for _, b := range envBindings {
		if v, ok := os.LookupEnv(b.envVar); ok && v != "" {
			if err := k.Set(b.key, v); err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("env", b.envVar).Wrap(err)
			}
		}
	}

	if flags != nil {
		p := posflag.ProviderWithValue(flags, ".", k, func(name, value string) (string, any) {
			key, ok := flagBindings[name]
			if !ok || !flags.Changed(name) {
				return "", nil
			}
			return key, value
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "applying command-line flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decoding configuration")
	}
	return &cfg, nil
}

// Validate checks the merged configuration, so missing secrets and
// malformed values surface at startup rather than on the first request.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.addr cannot be empty")
	}
	if c.Server.BaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.base_url cannot be empty")
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Max <= 0 {
			return oops.Code("CONFIG_INVALID").Errorf("server.rate_limit.max must be positive")
		}
		if c.Server.RateLimit.Window <= 0 {
			return oops.Code("CONFIG_INVALID").Errorf("server.rate_limit.window must be positive")
		}
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url cannot be empty; set it in the config file or via SHOPDEX_DATABASE_URL")
	}
	if err := c.TokenConfig().Validate(); err != nil {
		return err
	}
	if c.Auth.LockoutThreshold <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.lockout_threshold must be positive")
	}
	if c.Auth.LockoutDuration <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.lockout_duration must be positive")
	}
	if c.Auth.ResetTokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.reset_token_ttl must be positive")
	}
	if c.Observability.MetricsAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("observability.metrics_addr cannot be empty")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

// TokenConfig converts the auth section into the token issuer's config.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessKey:  []byte(c.Auth.AccessTokenKey),
		RefreshKey: []byte(c.Auth.RefreshTokenKey),
		AccessTTL:  c.Auth.AccessTokenTTL.Std(),
		RefreshTTL: c.Auth.RefreshTokenTTL.Std(),
	}
}

// LockoutPolicy converts the auth section into the login lockout policy.
func (c *Config) LockoutPolicy() auth.LockoutPolicy {
	return auth.LockoutPolicy{
		Threshold: c.Auth.LockoutThreshold,
		Duration:  c.Auth.LockoutDuration.Std(),
	}
}
