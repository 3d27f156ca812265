package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Namespace != "stint" {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, "stint")
	}
	if cfg.OpenSessionCapSeconds != 14400 {
		t.Errorf("OpenSessionCapSeconds = %d, want 14400", cfg.OpenSessionCapSeconds)
	}
	if cfg.TickInterval() != time.Second {
		t.Errorf("TickInterval() = %v, want 1s", cfg.TickInterval())
	}
	if cfg.PollInterval() != 15*time.Second {
		t.Errorf("PollInterval() = %v, want 15s", cfg.PollInterval())
	}
	if cfg.Mode() != ModeGuest {
		t.Errorf("Mode() = %q, want %q", cfg.Mode(), ModeGuest)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"retry_max_attempts": 2, "retry_base_delay_ms": 10}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetryMaxAttempts != 2 {
		t.Errorf("RetryMaxAttempts = %d, want 2", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelay() != 10*time.Millisecond {
		t.Errorf("RetryBaseDelay() = %v, want 10ms", cfg.RetryBaseDelay())
	}
	// Untouched fields keep defaults
	if cfg.PollIntervalSeconds != 15 {
		t.Errorf("PollIntervalSeconds = %d, want 15", cfg.PollIntervalSeconds)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestMode_AccountRequiresTokenAndURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"nothing", Config{}, ModeGuest},
		{"token only", Config{AuthToken: "t"}, ModeGuest},
		{"url only", Config{RemoteURL: "http://x"}, ModeGuest},
		{"both", Config{AuthToken: "t", RemoteURL: "http://x"}, ModeAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Mode(); got != tt.want {
				t.Errorf("Mode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpdate_WritesRawConfig(t *testing.T) {
	tmpDir := t.TempDir()

	err := Update(tmpDir, func(c *Config) {
		c.RemoteURL = "http://localhost:8080"
		c.AuthToken = "secret"
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	raw, err := loadFileRaw(filepath.Join(tmpDir, "config.json"))
	if err != nil {
		t.Fatalf("loadFileRaw() error = %v", err)
	}
	if raw.TickIntervalMS != 0 {
		t.Errorf("defaults leaked into file: TickIntervalMS = %d", raw.TickIntervalMS)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode() != ModeAccount {
		t.Errorf("Mode() = %q, want %q", cfg.Mode(), ModeAccount)
	}

	// Clearing the token returns to guest mode
	if err := Update(tmpDir, func(c *Config) { c.AuthToken = "" }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	cfg, err = Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode() != ModeGuest {
		t.Errorf("Mode() = %q, want %q", cfg.Mode(), ModeGuest)
	}
	if cfg.RemoteURL != "http://localhost:8080" {
		t.Errorf("RemoteURL = %q, want it kept", cfg.RemoteURL)
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"poll_interval_seconds": 30, "disabled_tools": ["session_discard"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	stintDir := filepath.Join(repoRoot, ".stint")
	if err := os.MkdirAll(stintDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"poll_interval_seconds": 5, "disabled_tools": ["session_list"]}`
	if err := os.WriteFile(filepath.Join(stintDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.PollIntervalSeconds != 5 {
		t.Errorf("PollIntervalSeconds = %d, want 5 (repo override)", cfg.PollIntervalSeconds)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want both entries merged", cfg.DisabledTools)
	}
}

func TestFindRepoConfig_WalksUp(t *testing.T) {
	root := t.TempDir()
	stintDir := filepath.Join(root, ".stint")
	if err := os.MkdirAll(stintDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(stintDir, "config.json"), []byte(`{}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	got := FindRepoConfig(nested)
	want := filepath.Join(stintDir, "config.json")
	if got != want {
		t.Errorf("FindRepoConfig() = %q, want %q", got, want)
	}
}

func TestMergeStringSlice(t *testing.T) {
	got := mergeStringSlice([]string{" a ", "b"}, []string{"b", "", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("mergeStringSlice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeStringSlice()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if mergeStringSlice(nil, []string{" "}) != nil {
		t.Error("mergeStringSlice() of blanks should be nil")
	}
}

func TestLoadServer(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("IDEMPOTENCY_LOCK_TTL_SECONDS", "5")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.IdempotencyLockTTL != 5*time.Second {
		t.Errorf("IdempotencyLockTTL = %v, want 5s", cfg.IdempotencyLockTTL)
	}
}

func TestLoadServer_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadServer(); err == nil {
		t.Fatal("LoadServer() expected error without JWT_SECRET")
	}
}
