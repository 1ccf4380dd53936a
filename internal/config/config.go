package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TeamSnapConfig describes the upstream API and OAuth application.
type TeamSnapConfig struct {
	// APIURL is the REST root, e.g. "https://api.teamsnap.com/v3".
	APIURL string `yaml:"api_url" json:"api_url"`
	// WebURL is used to build deep links to event pages.
	WebURL string `yaml:"web_url" json:"web_url"`

	AuthURL      string `yaml:"auth_url" json:"auth_url"`
	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`

	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	// Driver is "memory" (default) or "redis".
	Driver        string `yaml:"driver" json:"driver"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	// Prefix namespaces every key written by this process.
	Prefix string `yaml:"prefix" json:"prefix"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the owner API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// PublicURL is the externally visible base used in feed URLs.
	// Defaults to http://{Listen}.
	PublicURL string `yaml:"public_url" json:"public_url"`

	// Timezone is the IANA zone used when an event carries none.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Secret is mixed into every calendar token digest.
	Secret string `yaml:"secret" json:"-"`

	// RefreshCron drives the OAuth keep-alive job (e.g. "*/30 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	TeamSnap TeamSnapConfig `yaml:"teamsnap" json:"teamsnap"`
	Store    StoreConfig    `yaml:"store" json:"store"`

	// BasicAuth, if non-nil, protects /api/* and /auth/*.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.PublicURL == "" {
		c.PublicURL = "http://" + c.Listen
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/30 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		c.LogFormat = "json"
	}

	ts := &c.TeamSnap
	if ts.APIURL == "" {
		ts.APIURL = "https://api.teamsnap.com/v3"
	}
	ts.APIURL = strings.TrimRight(ts.APIURL, "/")
	if ts.WebURL == "" {
		ts.WebURL = "https://go.teamsnap.com"
	}
	ts.WebURL = strings.TrimRight(ts.WebURL, "/")
	if ts.AuthURL == "" {
		ts.AuthURL = "https://auth.teamsnap.com/oauth/authorize"
	}
	if ts.TokenURL == "" {
		ts.TokenURL = "https://auth.teamsnap.com/oauth/token"
	}
	if ts.RedirectURL == "" {
		ts.RedirectURL = c.PublicURL + "/auth/callback"
	}
	if ts.TimeoutSeconds <= 0 {
		ts.TimeoutSeconds = 15
	}

	switch c.Store.Driver {
	case "memory", "redis":
	default:
		c.Store.Driver = "memory"
	}
	if c.Store.Driver == "redis" && c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "127.0.0.1:6379"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "teamcal"
	}
}

// ApplyEnv overlays secrets from the environment. A .env file next to the
// working directory is loaded first when present; real environment
// variables always win over it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load() // missing .env is fine

	setString(&c.Secret, "TEAMCAL_SECRET")
	setString(&c.TeamSnap.ClientID, "TEAMSNAP_CLIENT_ID")
	setString(&c.TeamSnap.ClientSecret, "TEAMSNAP_CLIENT_SECRET")
	setString(&c.Store.RedisPassword, "TEAMCAL_REDIS_PASSWORD")
	if v := os.Getenv("TEAMCAL_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.RedisDB = n
		}
	}

	user, pass := os.Getenv("TEAMCAL_BASIC_AUTH_USER"), os.Getenv("TEAMCAL_BASIC_AUTH_PASSWORD")
	if user != "" && pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("config: secret is required (set secret or TEAMCAL_SECRET)")
	}
	if c.TeamSnap.ClientID == "" {
		return errors.New("config: teamsnap.client_id is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating parent directories) and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
//
// Environment overrides are not applied here; see ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".teamcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
