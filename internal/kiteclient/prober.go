package kiteclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"pkt.systems/kitelink/schema"
)

const (
	pathSystem     = "/system"
	pathUser       = "/clientapi/user"
	pathAuthorized = "/clientapi/permissions/authorized"
	pathWhitelist  = "/clientapi/permissions/whitelist"
	pathLogin      = "/api/account/login"

	defaultLaunchTimeout = 30 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	// AppPath is where the daemon application is installed.
	AppPath string
	// LaunchCommand starts the daemon. Empty disables Launch.
	LaunchCommand []string
	// SupportedOS lists GOOS values the daemon runs on. Empty allows all.
	SupportedOS []string
	// GOOS overrides runtime.GOOS.
	GOOS          string
	LaunchTimeout time.Duration
	PollInterval  time.Duration
}

// Prober derives the daemon readiness state from its HTTP surface and drives
// the launch, login and whitelist steps. Installation is left to the
// platform installer.
type Prober struct {
	client        *Client
	appPath       string
	launch        []string
	supported     map[string]struct{}
	goos          string
	launchTimeout time.Duration
	pollInterval  time.Duration
	run           func(ctx context.Context, argv []string) error
}

// NewProber constructs a prober on top of client.
func NewProber(client *Client, cfg ProberConfig) *Prober {
	p := &Prober{
		client:        client,
		appPath:       strings.TrimSpace(cfg.AppPath),
		launch:        append([]string(nil), cfg.LaunchCommand...),
		goos:          cfg.GOOS,
		launchTimeout: cfg.LaunchTimeout,
		pollInterval:  cfg.PollInterval,
		run:           runCommand,
	}
	if p.goos == "" {
		p.goos = runtime.GOOS
	}
	if p.launchTimeout <= 0 {
		p.launchTimeout = defaultLaunchTimeout
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	if len(cfg.SupportedOS) > 0 {
		p.supported = make(map[string]struct{}, len(cfg.SupportedOS))
		for _, goos := range cfg.SupportedOS {
			p.supported[strings.ToLower(strings.TrimSpace(goos))] = struct{}{}
		}
	}
	return p
}

// HandleState walks the readiness ladder for path and returns the first
// state that is not yet satisfied. path may be empty.
func (p *Prober) HandleState(ctx context.Context, path string) (schema.State, error) {
	if p.supported != nil {
		if _, ok := p.supported[p.goos]; !ok {
			return schema.StateUnsupported, nil
		}
	}
	resp, err := p.client.Get(ctx, pathSystem)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if p.installed() {
			return schema.StateInstalled, nil
		}
		return schema.StateUninstalled, nil
	}
	if resp.StatusCode != http.StatusOK {
		return schema.StateRunning, nil
	}

	resp, err = p.client.Get(ctx, pathUser)
	if err != nil {
		return "", fmt.Errorf("user check: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return schema.StateReachable, nil
	case resp.StatusCode != http.StatusOK:
		return "", &StatusError{Endpoint: pathUser, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	if strings.TrimSpace(path) == "" {
		return schema.StateAuthenticated, nil
	}

	resp, err = p.client.Get(ctx, pathAuthorized+"?"+url.Values{"filename": {path}}.Encode())
	if err != nil {
		return "", fmt.Errorf("permission check: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schema.StateAuthenticated, nil
	}
	return schema.StateWhitelisted, nil
}

func (p *Prober) installed() bool {
	if p.appPath == "" {
		return false
	}
	_, err := os.Stat(p.appPath)
	return err == nil
}

// Install is not handled here.
func (p *Prober) Install(context.Context) error {
	return fmt.Errorf("install daemon: %w", schema.ErrUnsupported)
}

// Launch starts the daemon and waits until it answers.
func (p *Prober) Launch(ctx context.Context) error {
	if len(p.launch) == 0 {
		return fmt.Errorf("launch daemon: no launch command configured: %w", schema.ErrUnsupported)
	}
	if err := p.run(ctx, p.launch); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.launchTimeout)
	defer cancel()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		resp, err := p.client.Get(waitCtx, pathSystem)
		if err == nil && resp.StatusCode == http.StatusOK {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("launch daemon: not reachable after %s", p.launchTimeout)
			}
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// Authenticate logs the user in.
func (p *Prober) Authenticate(ctx context.Context, email, password string) error {
	resp, err := p.client.PostForm(ctx, pathLogin, url.Values{"email": {email}, "password": {password}})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Endpoint: pathLogin, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

// Whitelist enables the daemon for dir.
func (p *Prober) Whitelist(ctx context.Context, dir string) error {
	resp, err := p.client.Post(ctx, pathWhitelist, map[string]string{"path": dir})
	if err != nil {
		return fmt.Errorf("whitelist %s: %w", dir, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Endpoint: pathWhitelist, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
