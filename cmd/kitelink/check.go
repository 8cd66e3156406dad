package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"pkt.systems/kitelink/internal/appconfig"
	"pkt.systems/kitelink/internal/kiteclient"
	"pkt.systems/kitelink/internal/metrics"
	"pkt.systems/kitelink/internal/readiness"
	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string
	var daemonAddr string
	var path string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check daemon readiness once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(daemonAddr) != "" {
				cfg.Daemon.Addr = daemonAddr
			}
			if path != "" {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				path = abs
			}
			daemonCfg := toDaemonConfig(cfg)
			daemonCfg.Logger = logger
			client, err := kiteclient.New(daemonCfg)
			if err != nil {
				return err
			}
			out := &printingNotifier{w: cmd.OutOrStdout()}
			if err := out.daemon(client.BaseURLString()); err != nil {
				return err
			}
			checker := readiness.New(readiness.Config{
				Controller: kiteclient.NewProber(client, toProberConfig(cfg)),
				Notifier:   out,
				Metrics:    metrics.Nop{},
				Logger:     logger,
			})
			state, err := checker.EnsureAndNotify(cmd.Context(), path)
			if err != nil {
				return err
			}
			return out.state(state)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&daemonAddr, "daemon", "", "override daemon.addr")
	cmd.Flags().StringVar(&path, "path", "", "file whose directory must be enabled")
	return cmd
}

type printingNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printingNotifier) Notify(n schema.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "[%s] %s\n", n.Level, n.Title)
	if n.Description != "" {
		_, _ = fmt.Fprintf(p.w, "  %s\n", n.Description)
	}
	if len(n.Buttons) > 0 {
		labels := make([]string, 0, len(n.Buttons))
		for _, b := range n.Buttons {
			labels = append(labels, b.Text)
		}
		_, _ = fmt.Fprintf(p.w, "  actions: %s\n", strings.Join(labels, ", "))
	}
}

func (p *printingNotifier) state(state schema.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "state: %s\n", state)
	return err
}

func (p *printingNotifier) daemon(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "daemon: %s\n", url)
	return err
}
