// Package readiness checks that the daemon is installed, running, logged in
// and enabled for the current file, and drives the notifications that let
// the user fix whichever step is missing.
package readiness

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"pkt.systems/kitelink/internal/logx"
	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// DefaultNotifyDelay is the minimum time between two notifications for the
// same state.
const DefaultNotifyDelay = time.Hour

// StateController inspects and changes the daemon's readiness.
type StateController interface {
	HandleState(ctx context.Context, path string) (schema.State, error)
	Install(ctx context.Context) error
	Launch(ctx context.Context) error
	Authenticate(ctx context.Context, email, password string) error
	Whitelist(ctx context.Context, dir string) error
}

// Notifier delivers notifications to editors.
type Notifier interface {
	Notify(n schema.Notification)
}

// MetricsSink receives analytics events.
type MetricsSink interface {
	Track(name string, props map[string]any)
}

// Config configures a Checker.
type Config struct {
	Controller  StateController
	Notifier    Notifier
	Metrics     MetricsSink
	NotifyDelay time.Duration
	Logger      pslog.Logger
}

// Checker runs readiness checks. It is safe for concurrent use.
type Checker struct {
	controller StateController
	notifier   Notifier
	metrics    MetricsSink
	delay      time.Duration
	now        func() time.Time
	newID      func() string
	log        pslog.Logger
	group      singleflight.Group
	flows      sync.WaitGroup

	mu           sync.Mutex
	lastNotified map[schema.State]time.Time
	lastPath     string
	active       map[string]*pending
	loginID      string
}

// New constructs a checker.
func New(cfg Config) *Checker {
	delay := cfg.NotifyDelay
	if delay <= 0 {
		delay = DefaultNotifyDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Checker{
		controller:   cfg.Controller,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		delay:        delay,
		now:          time.Now,
		newID:        newNotificationID,
		log:          logger,
		lastNotified: make(map[schema.State]time.Time),
		active:       make(map[string]*pending),
	}
}

// Ensure checks readiness for path and notifies the user about the first
// missing step. Notifications for a state are throttled to one per notify
// delay unless force is set; force also reports success when ready.
// Concurrent calls with the same arguments share one check.
func (c *Checker) Ensure(ctx context.Context, path string, force bool) (schema.State, error) {
	c.mu.Lock()
	c.lastPath = path
	c.mu.Unlock()

	key := fmt.Sprintf("%t\x00%s", force, path)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.ensure(ctx, path, force)
	})
	if shared {
		c.log.Trace("readiness check shared", "file", path, "force", force)
	}
	if err != nil {
		return "", err
	}
	return v.(schema.State), nil
}

// EnsureAndNotify is Ensure with force set.
func (c *Checker) EnsureAndNotify(ctx context.Context, path string) (schema.State, error) {
	return c.Ensure(ctx, path, true)
}

func (c *Checker) ensure(ctx context.Context, path string, force bool) (schema.State, error) {
	state, err := c.controller.HandleState(ctx, path)
	if err != nil {
		c.log.Warn("readiness check failed", "file", path, "err", err)
		c.track("handleState failed", map[string]any{"error": err})
		return "", err
	}
	log := logx.WithState(c.log, state)
	log.Debug("readiness state", "file", path, "force", force)

	switch state {
	case schema.StateUnsupported:
		if c.shouldNotify(state, force) {
			c.warnNotSupported()
		}
	case schema.StateUninstalled:
		if c.shouldNotify(state, force) {
			c.warnNotInstalled()
		}
	case schema.StateInstalled:
		if c.shouldNotify(state, force) {
			c.warnNotRunning()
		}
	case schema.StateRunning:
		// The daemon is still starting.
	case schema.StateReachable:
		if c.shouldNotify(state, force) {
			c.warnNotAuthenticated()
		}
	case schema.StateAuthenticated:
		if path != "" {
			if c.shouldNotify(state, force) {
				c.warnNotWhitelisted(path)
			}
		} else if force {
			c.notifyReady()
		}
	case schema.StateWhitelisted:
		c.track("kite is ready", nil)
		if force {
			c.notifyReady()
		}
	default:
		log.Warn("readiness state unknown")
	}
	return state, nil
}

func (c *Checker) shouldNotify(state schema.State, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	prev, ok := c.lastNotified[state]
	if force || !ok || now.Sub(prev) >= c.delay {
		c.lastNotified[state] = now
		return true
	}
	return false
}

// Wait blocks until flows started by Click have finished.
func (c *Checker) Wait() {
	c.flows.Wait()
}

func (c *Checker) currentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPath
}

func (c *Checker) track(name string, props map[string]any) {
	if c.metrics != nil {
		c.metrics.Track(name, props)
	}
}

func dirProps(dir string) map[string]any {
	return map[string]any{"dir": dir}
}

func baseName(path string) string {
	return filepath.Base(path)
}
