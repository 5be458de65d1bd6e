package shared

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Rotation    RotationConfig    `toml:"rotation"`
	Remote      RemoteConfig      `toml:"remote"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Scaling     ScalingConfig     `toml:"scaling"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings for the OAuth callback and worker API.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig controls the logger level and an optional log file.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// RotationConfig holds the defaults applied when creating and reshuffling playlists.
type RotationConfig struct {
	NamePrefix             string `toml:"name_prefix"`
	PlaylistSize           int    `toml:"playlist_size"`
	IntervalDays           int    `toml:"interval_days"`
	CooldownDays           int    `toml:"cooldown_days"`
	ArtistCap              int    `toml:"artist_cap"`
	MaxPlaylistsPerAccount int    `toml:"max_playlists_per_account"`
	SweepConcurrency       int    `toml:"sweep_concurrency"`
}

// RemoteConfig tunes calls to the Spotify Web API.
type RemoteConfig struct {
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxAttempts       int     `toml:"max_attempts"`
	BackoffMS         int     `toml:"backoff_ms"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Timeout is the per-attempt request timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Backoff is the base delay between attempts.
func (r RemoteConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMS) * time.Millisecond
}

// SchedulerConfig holds the worker tick and the cadence of each background job.
type SchedulerConfig struct {
	TickSeconds               int `toml:"tick_seconds"`
	ReshuffleMinutes          int `toml:"reshuffle_minutes"`
	TokenRefreshMinutes       int `toml:"token_refresh_minutes"`
	MetricsMinutes            int `toml:"metrics_minutes"`
	ScalingHours              int `toml:"scaling_hours"`
	TokenRefreshWindowMinutes int `toml:"token_refresh_window_minutes"`
}

// Tick is how often the worker polls for due jobs.
func (s SchedulerConfig) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// ScalingConfig drives the daily playlist top-up. A zero target disables scaling.
type ScalingConfig struct {
	TargetPlaylistsPerAccount int `toml:"target_playlists_per_account"`
	DailyStep                 int `toml:"daily_step"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv loads the given .env files (missing files are ignored) and overrides
// credentials and the database path from the environment.
func ApplyEnv(config *Config, files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{"SPOTIFY_CLIENT_ID", &config.Credentials.Spotify.ClientID},
		{"SPOTIFY_CLIENT_SECRET", &config.Credentials.Spotify.ClientSecret},
		{"SPOTIFY_REDIRECT_URI", &config.Credentials.Spotify.RedirectURI},
		{"ROTATOR_DB_PATH", &config.Database.Path},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}

	if v, ok := os.LookupEnv("ROTATOR_LOG_LEVEL"); ok && v != "" {
		config.Log.Level = v
	}
	if v, ok := os.LookupEnv("ROTATOR_SERVER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ROTATOR_SERVER_PORT=%q", ErrInvalidConfig, v)
		}
		config.Server.Port = port
	}

	return config.Validate()
}

// Validate rejects configurations the rotation engine cannot run with.
func (c *Config) Validate() error {
	r := c.Rotation
	switch {
	case r.PlaylistSize <= 0:
		return fmt.Errorf("%w: rotation.playlist_size must be positive", ErrInvalidConfig)
	case r.IntervalDays <= 0:
		return fmt.Errorf("%w: rotation.interval_days must be positive", ErrInvalidConfig)
	case r.CooldownDays < 0:
		return fmt.Errorf("%w: rotation.cooldown_days cannot be negative", ErrInvalidConfig)
	case r.ArtistCap <= 0:
		return fmt.Errorf("%w: rotation.artist_cap must be positive", ErrInvalidConfig)
	case r.MaxPlaylistsPerAccount <= 0:
		return fmt.Errorf("%w: rotation.max_playlists_per_account must be positive", ErrInvalidConfig)
	case r.SweepConcurrency <= 0:
		return fmt.Errorf("%w: rotation.sweep_concurrency must be positive", ErrInvalidConfig)
	case c.Remote.MaxAttempts <= 0:
		return fmt.Errorf("%w: remote.max_attempts must be positive", ErrInvalidConfig)
	case c.Scheduler.TickSeconds <= 0:
		return fmt.Errorf("%w: scheduler.tick_seconds must be positive", ErrInvalidConfig)
	case c.Scaling.TargetPlaylistsPerAccount < 0 || c.Scaling.DailyStep < 0:
		return fmt.Errorf("%w: scaling values cannot be negative", ErrInvalidConfig)
	}
	return nil
}
