package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/kitelink"
	"pkt.systems/kitelink/httpapi"
	"pkt.systems/kitelink/internal/appconfig"
	"pkt.systems/kitelink/internal/kiteclient"
	"pkt.systems/kitelink/internal/metrics"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var httpAddr string
	var daemonAddr string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local editor API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(httpAddr) != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if strings.TrimSpace(daemonAddr) != "" {
				cfg.Daemon.Addr = daemonAddr
			}
			watchPath := ""
			if !noWatch {
				watchPath = resolveWatchPath(cfgPath)
			}
			serverCfg := toServerConfig(cfg, watchPath)
			server, err := kitelink.New(serverCfg, kitelink.ServerDeps{Logger: logger}, kitelink.WithHTTP())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&httpAddr, "addr", "", "override http.addr")
	cmd.Flags().StringVar(&daemonAddr, "daemon", "", "override daemon.addr")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload completions.enabled when the config changes")
	return cmd
}

func resolveWatchPath(cfgPath string) string {
	path := cfgPath
	if path == "" {
		defaultPath, err := appconfig.DefaultConfigPath()
		if err != nil {
			return ""
		}
		path = defaultPath
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func toServerConfig(cfg appconfig.Config, watchPath string) kitelink.ServerConfig {
	return kitelink.ServerConfig{
		Source:        cfg.Editor.Source,
		EditorVersion: cfg.Editor.Version,
		StateDir:      cfg.StateDir,
		Daemon:        toDaemonConfig(cfg),
		Prober:        toProberConfig(cfg),
		HTTP:          httpapi.Config{Addr: cfg.HTTP.Addr},
		Metrics: metrics.Config{
			Enabled:    cfg.Metrics.Enabled,
			Endpoint:   cfg.Metrics.Endpoint,
			Token:      cfg.Metrics.Token,
			DistinctID: cfg.Metrics.DistinctID,
		},
		Completions:         cfg.Completions.Enabled,
		ConnectErrorLockout: time.Duration(cfg.Events.ConnectErrorLockoutSeconds) * time.Second,
		NotifyDelay:         time.Duration(cfg.Readiness.NotifyDelayMinutes) * time.Minute,
		ConfigPath:          watchPath,
	}
}

func toDaemonConfig(cfg appconfig.Config) kiteclient.Config {
	return kiteclient.Config{
		Addr:    cfg.Daemon.Addr,
		Source:  cfg.Editor.Source,
		Timeout: time.Duration(cfg.Daemon.TimeoutSeconds) * time.Second,
	}
}

func toProberConfig(cfg appconfig.Config) kiteclient.ProberConfig {
	return kiteclient.ProberConfig{
		AppPath:       cfg.Daemon.AppPath,
		LaunchCommand: cfg.Daemon.LaunchCommand,
		SupportedOS:   cfg.Readiness.SupportedOS,
	}
}
