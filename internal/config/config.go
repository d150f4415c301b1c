// Package config loads water-balance settings from defaults, an optional TOML
// file, .env files and the process environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const appName = "waterbalance"

// ErrMissingSupabase is returned by Validate when the backend URL or key is unset.
var ErrMissingSupabase = errors.New("missing Supabase settings: set SUPABASE_URL and SUPABASE_ANON_KEY")

// Config holds all water-balance configuration.
type Config struct {
	Supabase SupabaseConfig `toml:"supabase"`
	Auth     AuthConfig     `toml:"auth"`
	Treemap  TreemapConfig  `toml:"treemap"`
	Cache    CacheConfig    `toml:"cache"`
	Refresh  RefreshConfig  `toml:"refresh"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Logging  LoggingConfig  `toml:"logging"`
}

// SupabaseConfig configures the hosted backend.
type SupabaseConfig struct {
	URL          string `toml:"url"`
	AnonKey      string `toml:"anon_key"`
	FunctionName string `toml:"function_name"` // Remote procedure serving reports
	Timeout      string `toml:"timeout"`
}

// AuthConfig holds service credentials used by non-interactive entry points.
// Token, when set, is used as is instead of signing in.
type AuthConfig struct {
	Phone    string `toml:"phone"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
}

// TreemapConfig configures tree conversion.
type TreemapConfig struct {
	RootName string `toml:"root_name"`
	MaxDepth int    `toml:"max_depth"`
}

// CacheConfig configures the local snapshot cache.
type CacheConfig struct {
	Enabled   bool   `toml:"enabled"`
	DBPath    string `toml:"db_path"`
	TTL       string `toml:"ttl"`
	Retention string `toml:"retention"`
}

// RefreshConfig configures the scheduled refresher.
type RefreshConfig struct {
	Schedule       string   `toml:"schedule"` // Cron spec, minute resolution
	Groups         []string `toml:"groups"`
	StatDateLayout string   `toml:"stat_date_layout"` // Go time layout for today's stat date
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// TelegramConfig configures the Telegram front-end.
type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

// OpenAIConfig configures free-text query interpretation.
type OpenAIConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Supabase: SupabaseConfig{
			FunctionName: "waterBalance",
			Timeout:      "30s",
		},
		Treemap: TreemapConfig{
			RootName: "水平衡",
			MaxDepth: 256,
		},
		Cache: CacheConfig{
			Enabled:   true,
			DBPath:    filepath.Join("data", "waterbalance.db"),
			TTL:       "1h",
			Retention: "720h",
		},
		Refresh: RefreshConfig{
			Schedule:       "0 * * * *",
			StatDateLayout: "2006-01-02",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An empty path uses DefaultPath if that file
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := loadDotEnv(".env", ".env.local"); err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// loadDotEnv loads the .env files that exist. Variables already set in the
// environment are left untouched.
func loadDotEnv(files ...string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// DefaultPath returns ~/.config/waterbalance/config.toml, honoring XDG_CONFIG_HOME.
func DefaultPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// applyEnvOverrides lets the environment override file settings. The VITE_
// names are accepted so existing front-end .env files keep working.
func (c *Config) applyEnvOverrides() {
	setString(&c.Supabase.URL, "VITE_SUPABASE_URL")
	setString(&c.Supabase.URL, "SUPABASE_URL")
	setString(&c.Supabase.AnonKey, "VITE_SUPABASE_ANON_KEY")
	setString(&c.Supabase.AnonKey, "SUPABASE_ANON_KEY")
	setString(&c.Supabase.FunctionName, "WATERBALANCE_FUNCTION")
	setString(&c.Supabase.Timeout, "WATERBALANCE_TIMEOUT")

	setString(&c.Auth.Phone, "WATERBALANCE_PHONE")
	setString(&c.Auth.Password, "WATERBALANCE_PASSWORD")
	setString(&c.Auth.Token, "WATERBALANCE_TOKEN")

	setString(&c.Cache.DBPath, "WATERBALANCE_DB")
	setString(&c.Cache.TTL, "WATERBALANCE_CACHE_TTL")
	if v := os.Getenv("WATERBALANCE_CACHE"); v != "" {
		c.Cache.Enabled = v != "0" && !strings.EqualFold(v, "false") && !strings.EqualFold(v, "off")
	}

	setString(&c.Refresh.Schedule, "WATERBALANCE_SCHEDULE")
	if v := os.Getenv("WATERBALANCE_GROUPS"); v != "" {
		c.Refresh.Groups = splitList(v)
	}

	setString(&c.Server.Addr, "WATERBALANCE_ADDR")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Logging.Level, "WATERBALANCE_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports settings every entry point needs.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
		return ErrMissingSupabase
	}
	if c.Supabase.FunctionName == "" {
		return errors.New("supabase function name must not be empty")
	}
	return nil
}

// TimeoutDuration returns the HTTP timeout for backend calls.
func (c SupabaseConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// TTLDuration returns how long a snapshot is served without refetching.
func (c CacheConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, time.Hour)
}

// RetentionDuration returns how long snapshots are kept before pruning.
func (c CacheConfig) RetentionDuration() time.Duration {
	return parseDuration(c.Retention, 30*24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
