package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Env variables honored at load time.
const (
	EnvConfigPath   = "SOULSYNC_CONFIG_PATH"
	EnvDatabasePath = "DATABASE_PATH"
	EnvFpcalcPath   = "FPCALC"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Catalog     CatalogConfig     `toml:"catalog"`
	YouTube     YouTubeConfig     `toml:"youtube"`
	MediaServer MediaServerConfig `toml:"media_server"`
	Slskd       SlskdConfig       `toml:"slskd"`
	AcoustID    AcoustIDConfig    `toml:"acoustid"`
	Downloads   DownloadsConfig   `toml:"downloads"`
	Database    DatabaseConfig    `toml:"database"`
	Storage     StorageConfig     `toml:"storage"`
}

// CatalogConfig contains streaming-catalog API credentials.
type CatalogConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// YouTubeConfig contains settings for the YouTube ingestion proxy.
type YouTubeConfig struct {
	BaseURL string `toml:"base_url"`
}

// MediaServerConfig selects and configures the local media server backend.
type MediaServerConfig struct {
	Kind     string `toml:"kind"` // plex, jellyfin, navidrome
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// SlskdConfig contains settings for the slskd transfer daemon.
type SlskdConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// AcoustIDConfig contains settings for fingerprint verification.
type AcoustIDConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`
	FpcalcPath string `toml:"fpcalc_path"`
}

// DownloadsConfig controls dispatch behavior and quality preference.
type DownloadsConfig struct {
	Directory     string `toml:"directory"`
	Quality       string `toml:"quality"` // flac, mp3_320, mp3_256, any
	MaxConcurrent int    `toml:"max_concurrent"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// StorageConfig locates on-disk state such as the sync status file.
type StorageConfig struct {
	Dir string `toml:"dir"`
}

// ResolveConfigPath returns the config file path, honoring SOULSYNC_CONFIG_PATH over the supplied default.
func ResolveConfigPath(fallback string) string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return fallback
}

// LoadConfig reads and parses a TOML configuration file from the specified path, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.applyEnv()
	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyEnv()
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

// applyEnv folds recognized environment variables into the loaded config.
func (c *Config) applyEnv() {
	if p := os.Getenv(EnvDatabasePath); p != "" {
		c.Database.Path = p
	}
	if p := os.Getenv(EnvFpcalcPath); p != "" {
		c.AcoustID.FpcalcPath = p
	}
}
