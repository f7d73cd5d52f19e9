package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8787" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8787")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Agent.Backend != "claude" {
		t.Errorf("Agent.Backend = %q, want %q", cfg.Agent.Backend, "claude")
	}
	if cfg.Agent.Timeout != "120s" {
		t.Errorf("Agent.Timeout = %q, want %q", cfg.Agent.Timeout, "120s")
	}
	if cfg.Agent.MaxTurns != 50 {
		t.Errorf("Agent.MaxTurns = %d, want 50", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.MaxConcurrent != 8 {
		t.Errorf("Agent.MaxConcurrent = %d, want 8", cfg.Agent.MaxConcurrent)
	}
	if cfg.Session.Store != "file" {
		t.Errorf("Session.Store = %q, want %q", cfg.Session.Store, "file")
	}
	if filepath.Base(cfg.Session.Path) != "sessions.json" {
		t.Errorf("Session.Path = %q, want sessions.json", cfg.Session.Path)
	}
	if cfg.Session.MaxAge != "24h" {
		t.Errorf("Session.MaxAge = %q, want %q", cfg.Session.MaxAge, "24h")
	}
	if cfg.Session.SweepSchedule != "@every 30m" {
		t.Errorf("Session.SweepSchedule = %q, want %q", cfg.Session.SweepSchedule, "@every 30m")
	}
	if cfg.Decoder.MaxResultChars != 50000 || cfg.Decoder.MaxErrorChars != 1000 {
		t.Errorf("Decoder = %+v, want 50000/1000", cfg.Decoder)
	}
	if cfg.Vault.Enabled() {
		t.Error("Vault.Enabled() = true, want false by default")
	}
	if cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to false")
	}
	if cfg.RateLimit.Rate != 60 || cfg.RateLimit.Burst != 60 || cfg.RateLimit.Period != "1m" {
		t.Errorf("RateLimit = %+v, want 60/60/1m sub-defaults", cfg.RateLimit)
	}
	if filepath.Base(cfg.Server.PIDFile) != "clibridge.pid" {
		t.Errorf("PIDFile = %q, want clibridge.pid", cfg.Server.PIDFile)
	}
}

func TestConfig_SetDefaults_SQLitePath(t *testing.T) {
	t.Parallel()

	cfg := Config{Session: SessionConfig{Store: "sqlite"}}
	cfg.SetDefaults()

	if filepath.Base(cfg.Session.Path) != "sessions.db" {
		t.Errorf("Session.Path = %q, want sessions.db", cfg.Session.Path)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:  ServerConfig{HTTPAddr: ":9000", LogLevel: "warn"},
		Agent:   AgentConfig{Backend: "gemini", Timeout: "30s", MaxTurns: 5, WorkingDirectory: "/srv"},
		Session: SessionConfig{Path: "/tmp/s.json", MaxAge: "1h"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":9000")
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "warn")
	}
	if cfg.Agent.Backend != "gemini" || cfg.Agent.Timeout != "30s" || cfg.Agent.MaxTurns != 5 {
		t.Errorf("Agent = %+v, want values preserved", cfg.Agent)
	}
	if cfg.Agent.WorkingDirectory != "/srv" {
		t.Errorf("WorkingDirectory = %q, want %q", cfg.Agent.WorkingDirectory, "/srv")
	}
	if cfg.Session.Path != "/tmp/s.json" || cfg.Session.MaxAge != "1h" {
		t.Errorf("Session = %+v, want values preserved", cfg.Session)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q in dev mode", cfg.Server.LogLevel, "debug")
	}
	if cfg.Telemetry.Environment != "development" {
		t.Errorf("Environment = %q, want %q", cfg.Telemetry.Environment, "development")
	}

	var prod Config
	prod.SetDefaults()
	prod.SetDevDefaults()
	if prod.Telemetry.Environment != "production" {
		t.Errorf("Environment = %q, want %q", prod.Telemetry.Environment, "production")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"empty uses default", "", time.Minute, true},
		{"valid", "30s", 30 * time.Second, true},
		{"invalid", "soon", time.Minute, false},
		{"zero", "0s", time.Minute, false},
		{"negative", "-5s", time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseDuration(tt.value, time.Minute)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseDuration(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clibridge.yaml")
	yaml := strings.Join([]string{
		"server:",
		"  http_addr: 127.0.0.1:9999",
		"agent:",
		"  backend: codex",
		"  max_turns: 7",
		"  pass_env: [HOME, LANG]",
		"session:",
		"  store: memory",
		"",
	}, "\n")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("CLIBRIDGE_AGENT_TIMEOUT", "45s")

	InitViper(cfgPath)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if ConfigFileUsed() != cfgPath {
		t.Errorf("ConfigFileUsed() = %q, want %q", ConfigFileUsed(), cfgPath)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9999")
	}
	if cfg.Agent.Backend != "codex" || cfg.Agent.MaxTurns != 7 {
		t.Errorf("Agent = %+v, want codex with 7 turns", cfg.Agent)
	}
	if len(cfg.Agent.PassEnv) != 2 {
		t.Errorf("PassEnv = %v, want 2 entries", cfg.Agent.PassEnv)
	}
	if cfg.Agent.Timeout != "45s" {
		t.Errorf("Agent.Timeout = %q, want env override %q", cfg.Agent.Timeout, "45s")
	}
	if cfg.Session.Store != "memory" {
		t.Errorf("Session.Store = %q, want %q", cfg.Session.Store, "memory")
	}
}

func TestLoadConfig_InvalidFileFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clibridge.yaml")
	if err := os.WriteFile(cfgPath, []byte("agent:\n  backend: cobol\n"), 0600); err != nil {
		t.Fatal(err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)

	InitViper(cfgPath)
	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig() should reject an unknown backend")
	}
	if !strings.Contains(err.Error(), "Backend") {
		t.Errorf("error = %q, want mention of Backend", err)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clibridge.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "clibridge.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A file named like the binary, with no extension.
	_ = os.WriteFile(filepath.Join(dir, "clibridge"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "clibridge.yaml")
	ymlPath := filepath.Join(dir, "clibridge.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
