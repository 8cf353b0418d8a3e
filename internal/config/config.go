// Package config reads and writes the daybook configuration under
// ~/.config/daybook: config.json for settings, auth.json (0600) for the
// session credentials. Environment variables override the files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SyncConfig holds sync settings.
type SyncConfig struct {
	URL      string `json:"url"`
	Interval string `json:"interval,omitempty"` // duration string, default "30s"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug|info|warn|error, default info
	Format string `json:"format,omitempty"` // text|json, default text
	File   string `json:"file,omitempty"`   // rotating log file; empty = stderr only
}

// Config is the global daybook config stored at ~/.config/daybook/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
	Log  LogConfig  `json:"log"`
	// KeyPassphrase wraps the keystore when set; otherwise a device secret
	// is used.
	KeyPassphrase string `json:"key_passphrase,omitempty"`
	// DataDir overrides where the cache database and keystore live.
	DataDir string `json:"data_dir,omitempty"`
}

// AuthCredentials stores the session at ~/.config/daybook/auth.json.
type AuthCredentials struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// Dir returns ~/.config/daybook, creating it if necessary.
func Dir() (string, error) {
	if v := os.Getenv("DAYBOOK_CONFIG_DIR"); v != "" {
		if err := os.MkdirAll(v, 0755); err != nil {
			return "", fmt.Errorf("create config dir: %w", err)
		}
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "daybook")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the global config. A missing file yields zero-value defaults.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config atomically (temp file + rename).
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads the session credentials, or nil when signed out.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes the session credentials (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes auth.json.
func ClearAuth() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ServerURL returns the sync server URL.
// Priority: DAYBOOK_SERVER_URL env > auth.json > config.json > default.
func ServerURL() string {
	if v := os.Getenv("DAYBOOK_SERVER_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	cfg, err := Load()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// Token returns the session token.
// Priority: DAYBOOK_TOKEN env > auth.json.
func Token() string {
	if v := os.Getenv("DAYBOOK_TOKEN"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.Token
	}
	return ""
}

// SyncInterval returns the periodic pass interval.
// Priority: DAYBOOK_SYNC_INTERVAL env > config.json > 30s.
func SyncInterval() time.Duration {
	if v := os.Getenv("DAYBOOK_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := Load()
	if err == nil && cfg.Sync.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Interval); err == nil {
			return d
		}
	}
	return 30 * time.Second
}

// DataDir returns where the cache database and keystore live.
// Priority: DAYBOOK_DATA_DIR env > config.json > the config dir itself.
func DataDir() (string, error) {
	if v := os.Getenv("DAYBOOK_DATA_DIR"); v != "" {
		return v, nil
	}
	cfg, err := Load()
	if err == nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	return Dir()
}

// KeyPassphrase returns the keystore wrap passphrase, empty when the device
// secret should be used.
// Priority: DAYBOOK_KEY_PASSPHRASE env > config.json.
func KeyPassphrase() string {
	if v := os.Getenv("DAYBOOK_KEY_PASSPHRASE"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil {
		return cfg.KeyPassphrase
	}
	return ""
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
