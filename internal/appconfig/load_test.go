package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Events.ConnectErrorLockoutSeconds != 900 {
		t.Fatalf("lockout = %d, want 900", cfg.Events.ConnectErrorLockoutSeconds)
	}
	if cfg.Daemon.Addr != "127.0.0.1:46624" {
		t.Fatalf("daemon addr = %q", cfg.Daemon.Addr)
	}
	if !cfg.Completions.Enabled {
		t.Fatalf("expected completions enabled by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("KITE_TOKEN", "tok")
	path := writeConfig(t, `
config_version: 1
editor:
  source: vim
daemon:
  addr: 127.0.0.1:9999
completions:
  enabled: false
metrics:
  enabled: true
  token: $KITE_TOKEN
readiness:
  supported_os: [darwin]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Editor.Source != "vim" || cfg.Daemon.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Completions.Enabled {
		t.Fatalf("expected completions disabled")
	}
	if cfg.Metrics.Token != "tok" {
		t.Fatalf("token = %q, want env expansion", cfg.Metrics.Token)
	}
	if len(cfg.Readiness.SupportedOS) != 1 || cfg.Readiness.SupportedOS[0] != "darwin" {
		t.Fatalf("supported os = %v", cfg.Readiness.SupportedOS)
	}
	if cfg.Readiness.NotifyDelayMinutes != 60 {
		t.Fatalf("notify delay = %d, want default 60", cfg.Readiness.NotifyDelayMinutes)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 2
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: 127.0.0.1:1
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{"http:\n  addr: nope", "http.addr"},
		{"events:\n  connect_error_lockout_seconds: 0", "connect_error_lockout_seconds"},
		{"metrics:\n  enabled: true", "metrics.token"},
		{"daemon:\n  addr: not a host", "daemon.addr"},
	}
	for _, tc := range cases {
		path := writeConfig(t, "config_version: 1\n"+tc.body)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%q: expected %s error, got %v", tc.body, tc.want, err)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func TestWatchReportsChanges(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
completions:
  enabled: true
`)
	changes := make(chan Config, 4)
	if err := Watch(path, func(cfg Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := os.WriteFile(path, []byte("config_version: 1\ncompletions:\n  enabled: false\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if !cfg.Completions.Enabled {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for config change")
		}
	}
}

func TestWatchRequiresFile(t *testing.T) {
	if err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(Config, error) {}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
