package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Identity modes.
const (
	ModeGuest   = "guest"
	ModeAccount = "account"
)

// Config holds client configuration.
type Config struct {
	// Namespace prefixes every local store key (e.g. "stint" → "stint.v1:sessions").
	// Change it only to keep unrelated data sets apart in the same database.
	Namespace string `json:"namespace,omitempty"`

	// RemoteURL is the base URL of the remote session API (e.g. "https://api.example.com").
	RemoteURL string `json:"remote_url,omitempty"`

	// AuthToken is the bearer token for the remote API. Empty means guest mode.
	AuthToken string `json:"auth_token,omitempty"`

	// TickIntervalMS is how often a live session recomputes its timer.
	TickIntervalMS int `json:"tick_interval_ms,omitempty"`

	// PollIntervalSeconds is how often a live session reconciles with its backing store.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`

	// RetryMaxAttempts caps the number of attempts for a queued write.
	RetryMaxAttempts int `json:"retry_max_attempts,omitempty"`

	// RetryBaseDelayMS is the first backoff delay; each retry doubles it.
	RetryBaseDelayMS int `json:"retry_base_delay_ms,omitempty"`

	// OpenSessionCapSeconds is the maximum length of an open-ended session.
	OpenSessionCapSeconds int `json:"open_session_cap_seconds,omitempty"`

	// RetainGuestData keeps guest sessions/notes/tasks in the local store after
	// a successful migration. Meta is always retained.
	RetainGuestData bool `json:"retain_guest_data,omitempty"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside ~/.stint/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Namespace:             "stint",
		TickIntervalMS:        1000,
		PollIntervalSeconds:   15,
		RetryMaxAttempts:      5,
		RetryBaseDelayMS:      500,
		OpenSessionCapSeconds: 4 * 60 * 60,
	}
}

// Mode returns the identity mode implied by the credentials.
func (c *Config) Mode() string {
	if c.AuthToken != "" && c.RemoteURL != "" {
		return ModeAccount
	}
	return ModeGuest
}

// TickInterval returns the tick cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// PollInterval returns the reconciliation cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RetryBaseDelay returns the first backoff delay as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.stint.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.stint) and repo (.stint) directories.
// Repo config is found by walking upward from startDir to find the nearest .stint/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .stint/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".stint", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Update applies fn to the raw (non-defaulted) config stored in baseDir/config.json
// and writes it back. Defaults are not baked into the file.
func Update(baseDir string, fn func(*Config)) error {
	configPath := filepath.Join(baseDir, "config.json")
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return err
	}
	fn(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a truncated config
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.Namespace = firstString(overlay.Namespace, base.Namespace)
	result.RemoteURL = firstString(overlay.RemoteURL, base.RemoteURL)
	result.AuthToken = firstString(overlay.AuthToken, base.AuthToken)
	result.TickIntervalMS = firstInt(overlay.TickIntervalMS, base.TickIntervalMS)
	result.PollIntervalSeconds = firstInt(overlay.PollIntervalSeconds, base.PollIntervalSeconds)
	result.RetryMaxAttempts = firstInt(overlay.RetryMaxAttempts, base.RetryMaxAttempts)
	result.RetryBaseDelayMS = firstInt(overlay.RetryBaseDelayMS, base.RetryBaseDelayMS)
	result.OpenSessionCapSeconds = firstInt(overlay.OpenSessionCapSeconds, base.OpenSessionCapSeconds)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.RetainGuestData = base.RetainGuestData || overlay.RetainGuestData
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return strings.TrimSpace(b)
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
