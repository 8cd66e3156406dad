package appconfig

import (
	"os"
	"path/filepath"
	"runtime"

	"pkt.systems/kitelink/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	Editor        EditorConfig      `mapstructure:"editor" yaml:"editor"`
	Daemon        DaemonConfig      `mapstructure:"daemon" yaml:"daemon"`
	HTTP          HTTPConfig        `mapstructure:"http" yaml:"http"`
	Completions   CompletionsConfig `mapstructure:"completions" yaml:"completions"`
	Metrics       MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Events        EventsConfig      `mapstructure:"events" yaml:"events"`
	Readiness     ReadinessConfig   `mapstructure:"readiness" yaml:"readiness"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// EditorConfig identifies the editor kitelink serves.
type EditorConfig struct {
	Source  string `mapstructure:"source" yaml:"source"`
	Version string `mapstructure:"version" yaml:"version"`
}

// DaemonConfig locates and controls the Kite daemon.
type DaemonConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	AppPath        string   `mapstructure:"app_path" yaml:"app_path"`
	LaunchCommand  []string `mapstructure:"launch_command" yaml:"launch_command"`
}

// HTTPConfig configures the local editor API.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// CompletionsConfig toggles the completions proxy.
type CompletionsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsConfig configures usage analytics.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
	Token      string `mapstructure:"token" yaml:"token"`
	DistinctID string `mapstructure:"distinct_id" yaml:"distinct_id"`
}

// EventsConfig controls event delivery failure reporting.
type EventsConfig struct {
	ConnectErrorLockoutSeconds int `mapstructure:"connect_error_lockout_seconds" yaml:"connect_error_lockout_seconds"`
}

// ReadinessConfig controls readiness checks and notifications.
type ReadinessConfig struct {
	NotifyDelayMinutes int      `mapstructure:"notify_delay_minutes" yaml:"notify_delay_minutes"`
	SupportedOS        []string `mapstructure:"supported_os" yaml:"supported_os"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	appPath, launch := defaultDaemonInstall(home)
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".kitelink", "state"),
		Editor: EditorConfig{
			Source:  schema.DefaultSource,
			Version: "",
		},
		Daemon: DaemonConfig{
			Addr:           schema.DefaultDaemonAddr,
			TimeoutSeconds: 10,
			AppPath:        appPath,
			LaunchCommand:  launch,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:46625",
		},
		Completions: CompletionsConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Endpoint:   "https://api.mixpanel.com/track",
			Token:      "",
			DistinctID: "",
		},
		Events: EventsConfig{
			ConnectErrorLockoutSeconds: 900,
		},
		Readiness: ReadinessConfig{
			NotifyDelayMinutes: 60,
			SupportedOS:        []string{"darwin", "linux", "windows"},
		},
	}, nil
}

func defaultDaemonInstall(home string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "/Applications/Kite.app", []string{"open", "-a", "Kite"}
	case "windows":
		return `C:\Program Files\Kite\kited.exe`, []string{`C:\Program Files\Kite\kited.exe`}
	default:
		path := filepath.Join(home, ".local", "share", "kite", "kited")
		return path, []string{path}
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kitelink", "config.yaml"), nil
}
