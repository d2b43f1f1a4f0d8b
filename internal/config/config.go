package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tutorlink/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// APIBaseURL is the REST backend, e.g. "https://api.tutorlink.app".
	APIBaseURL string `toml:"api_base_url"`
	// GatewayURL is the websocket push gateway, e.g. "wss://gw.tutorlink.app/ws".
	GatewayURL string `toml:"gateway_url"`

	// Token is the bearer credential issued by the identity provider. It
	// authenticates both REST calls and the gateway connection.
	Token string `toml:"token"`
	// UserID is the id of the signed-in user the token belongs to.
	UserID string `toml:"user_id"`

	// AllowedUsers is the visibility policy: the counterpart user ids this
	// user may see conversations with, as supplied by the relationship
	// service.
	AllowedUsers []string `toml:"allowed_users"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
