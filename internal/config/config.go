// Package config loads server configuration.
//
// Sources are layered, later ones overriding earlier ones: built-in defaults,
// an optional YAML file, then environment variables prefixed with CENTSIBLE_.
// Keys are two levels deep; CENTSIBLE_SESSION_COOKIE_NAME maps to
// session.cookie_name.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "CENTSIBLE_"

// Config is the full server configuration.
type Config struct {
	Server   Server   `koanf:"server"`
	Database Database `koanf:"database"`
	Session  Session  `koanf:"session"`
	Auth     Auth     `koanf:"auth"`
	Log      Log      `koanf:"log"`
}

type Server struct {
	Addr            string        `koanf:"addr"`
	BasePath        string        `koanf:"base_path"`
	SecureCookie    bool          `koanf:"secure_cookie"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type Database struct {
	Path string `koanf:"path"`
}

type Session struct {
	TTL        time.Duration `koanf:"ttl"`
	CookieName string        `koanf:"cookie_name"`
}

// Auth configures password hashing and the optional bootstrap account.
type Auth struct {
	BcryptCost    int    `koanf:"bcrypt_cost"`
	AdminUser     string `koanf:"admin_user"`
	AdminPassword string `koanf:"admin_password"`
}

type Log struct {
	Level       string `koanf:"level"`
	Format      string `koanf:"format"`
	Development bool   `koanf:"development"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8000",
		"server.base_path":        "",
		"server.secure_cookie":    false,
		"server.read_timeout":     "15s",
		"server.write_timeout":    "15s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "10s",
		"database.path":           "centsible.db",
		"session.ttl":             "336h",
		"session.cookie_name":     "sessionid",
		"auth.bcrypt_cost":        bcrypt.DefaultCost,
		"auth.admin_user":         "",
		"auth.admin_password":     "",
		"log.level":               "info",
		"log.format":              "json",
		"log.development":         false,
	}
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	filePath  string
	envPrefix string
	overrides map[string]any
}

// WithFile layers the YAML file at path over the defaults.
func WithFile(path string) Option {
	return func(l *loader) { l.filePath = path }
}

// WithEnvPrefix changes the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// WithOverrides applies values after every other source. Keys use dots.
func WithOverrides(values map[string]any) Option {
	return func(l *loader) { l.overrides = values }
}

// Load builds and validates a Config.
func Load(opts ...Option) (*Config, error) {
	l := &loader{envPrefix: EnvPrefix}
	for _, opt := range opts {
		opt(l)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	prefix := l.envPrefix
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return envKey(prefix, s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(l.overrides) > 0 {
		if err := k.Load(confmap.Provider(l.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Server.BasePath = strings.TrimRight(cfg.Server.BasePath, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CENTSIBLE_SERVER_BASE_PATH to server.base_path: the first
// segment names the section, the rest is the key.
func envKey(prefix, s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, prefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path must not be empty"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name must not be empty"))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if (c.Auth.AdminUser == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, errors.New("auth.admin_user and auth.admin_password must be set together"))
	}
	return errors.Join(errs...)
}
