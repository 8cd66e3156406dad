package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	v, path, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}
	return decode(v, configLoaded)
}

// Watch calls onChange with the reloaded config whenever the file at path
// is written. Invalid edits are passed to onChange as errors and leave the
// previous config in effect. The file must exist.
func Watch(path string, onChange func(Config, error)) error {
	v, path, err := newViper(path)
	if err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v, true))
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) (*viper.Viper, string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return nil, "", err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("editor.source", cfg.Editor.Source)
	v.SetDefault("editor.version", cfg.Editor.Version)
	v.SetDefault("daemon.addr", cfg.Daemon.Addr)
	v.SetDefault("daemon.timeout_seconds", cfg.Daemon.TimeoutSeconds)
	v.SetDefault("daemon.app_path", cfg.Daemon.AppPath)
	v.SetDefault("daemon.launch_command", cfg.Daemon.LaunchCommand)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("completions.enabled", cfg.Completions.Enabled)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.endpoint", cfg.Metrics.Endpoint)
	v.SetDefault("metrics.token", cfg.Metrics.Token)
	v.SetDefault("metrics.distinct_id", cfg.Metrics.DistinctID)
	v.SetDefault("events.connect_error_lockout_seconds", cfg.Events.ConnectErrorLockoutSeconds)
	v.SetDefault("readiness.notify_delay_minutes", cfg.Readiness.NotifyDelayMinutes)
	v.SetDefault("readiness.supported_os", cfg.Readiness.SupportedOS)
	return v, path, nil
}

func decode(v *viper.Viper, configLoaded bool) (Config, error) {
	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr must be host:port: %w", err)
	}
	daemon := strings.TrimSpace(cfg.Daemon.Addr)
	if daemon != "" && !strings.Contains(daemon, "://") {
		if _, _, err := net.SplitHostPort(daemon); err != nil {
			return fmt.Errorf("daemon.addr must be host:port or a URL: %w", err)
		}
	}
	if cfg.Daemon.TimeoutSeconds <= 0 {
		return fmt.Errorf("daemon.timeout_seconds must be positive")
	}
	if cfg.Events.ConnectErrorLockoutSeconds <= 0 {
		return fmt.Errorf("events.connect_error_lockout_seconds must be positive")
	}
	if cfg.Readiness.NotifyDelayMinutes <= 0 {
		return fmt.Errorf("readiness.notify_delay_minutes must be positive")
	}
	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Token) == "" {
		return fmt.Errorf("metrics.token is required when metrics.enabled is true")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Daemon.AppPath = expandEnv(cfg.Daemon.AppPath)
	for i, arg := range cfg.Daemon.LaunchCommand {
		cfg.Daemon.LaunchCommand[i] = expandEnv(arg)
	}
	cfg.Metrics.Token = expandEnv(cfg.Metrics.Token)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
