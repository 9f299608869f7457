package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.papo/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server    Server    `toml:"server"`
	Reconnect Reconnect `toml:"reconnect"`
	Device    Device    `toml:"device"`
}

// Server holds backend endpoints.
type Server struct {
	WebSocketURL string `toml:"websocket_url"`
	APIBaseURL   string `toml:"api_base_url"`
	UploadURL    string `toml:"upload_url"`
}

// Reconnect tunes the connection manager's backoff policy.
type Reconnect struct {
	BaseDelayMs int `toml:"base_delay_ms"`
	MaxDelayMs  int `toml:"max_delay_ms"`
	MaxAttempts int `toml:"max_attempts"`
}

// Device holds metadata reported in the sync handshake.
type Device struct {
	Name       string `toml:"name"`
	OSVersion  string `toml:"os_version"`
	AppVersion string `toml:"app_version"`
	Locale     string `toml:"locale"`
}

// Default returns a config with the backoff and endpoint defaults applied.
func Default() *Config {
	return &Config{
		Server: Server{
			WebSocketURL: "wss://appshub.shop/ws",
			APIBaseURL:   "https://appshub.shop/api",
			UploadURL:    "https://appshub.shop/upload_handler.php",
		},
		Reconnect: Reconnect{
			BaseDelayMs: 2000,
			MaxDelayMs:  30000,
			MaxAttempts: 5,
		},
		Device: Device{
			Name:       "papod",
			OSVersion:  "linux",
			AppVersion: "0.1.0",
			Locale:     "pt_BR",
		},
	}
}

// BaseDelay returns the reconnect base delay as a duration.
func (r Reconnect) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMs) * time.Millisecond }

// MaxDelay returns the reconnect delay cap as a duration.
func (r Reconnect) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMs) * time.Millisecond }

// Load reads config from the given path, filling unset sections with defaults.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Reconnect.BaseDelayMs <= 0 {
		cfg.Reconnect.BaseDelayMs = 2000
	}
	if cfg.Reconnect.MaxDelayMs <= 0 {
		cfg.Reconnect.MaxDelayMs = 30000
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = 5
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
