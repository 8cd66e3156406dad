package readiness

import (
	"context"
	"fmt"

	"pkt.systems/kitelink/schema"
)

func (c *Checker) install(ctx context.Context) {
	c.track("download-and-install started", nil)
	if err := c.controller.Install(ctx); err != nil {
		c.log.Warn("install failed", "err", err)
		c.track("download-and-install failed", map[string]any{"error": err})
		c.failure("Unable to install Kite", err,
			"retry button clicked (via download-and-install error)", nil, c.install,
			"download-and-install error dismissed")
		return
	}
	c.track("download-and-install succeeded", nil)
	c.launch(ctx)
}

func (c *Checker) launch(ctx context.Context) {
	c.track("launch started", nil)
	if err := c.controller.Launch(ctx); err != nil {
		c.log.Warn("launch failed", "err", err)
		c.track("launch failed", map[string]any{"error": err})
		c.failure("Unable to start Kite autocomplete daemon", err,
			"retry button clicked (via launch error)", nil, c.launch,
			"launch error dismissed")
		return
	}
	c.track("launch succeeded", nil)
	c.recheck(ctx)
}

// authenticate asks the editor for credentials. The flow continues in Login.
func (c *Checker) authenticate(context.Context) {
	n := c.publish(schema.Notification{
		Kind:        schema.NotificationLogin,
		Level:       schema.NotificationInfo,
		Title:       "Log in to Kite",
		Dismissable: true,
	}, nil, "", nil)
	c.mu.Lock()
	c.loginID = n.ID
	c.mu.Unlock()
}

// LoginPending reports whether a login form is waiting for credentials.
func (c *Checker) LoginPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginID != ""
}

// Login submits credentials for the pending login form.
func (c *Checker) Login(ctx context.Context, email, password string) error {
	if !c.takeLogin() {
		return schema.ErrNoLoginPending
	}
	props := map[string]any{"email": email}
	c.track("submit clicked in login panel", props)
	c.track("authentication started", props)
	if err := c.controller.Authenticate(ctx, email, password); err != nil {
		c.log.Warn("authentication failed", "email", email, "err", err)
		c.track("authentication failed", map[string]any{"error": err})
		c.failure("Unable to login", err,
			"retry button clicked (via authentication error)", nil, c.authenticate,
			"authentication error dismissed")
		return fmt.Errorf("login: %w", err)
	}
	c.track("authentication succeeded", props)
	c.recheck(ctx)
	return nil
}

// CancelLogin closes the pending login form.
func (c *Checker) CancelLogin() error {
	if !c.takeLogin() {
		return schema.ErrNoLoginPending
	}
	c.track("cancel clicked in login panel", nil)
	return nil
}

func (c *Checker) takeLogin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loginID == "" {
		return false
	}
	delete(c.active, c.loginID)
	c.loginID = ""
	return true
}

func (c *Checker) whitelist(ctx context.Context, dir string) {
	c.track("whitelisting started", dirProps(dir))
	if err := c.controller.Whitelist(ctx, dir); err != nil {
		c.log.Warn("whitelisting failed", "dir", dir, "err", err)
		c.track("whitelisting failed", dirProps(dir))
		c.failure("Unable to enable Kite for "+dir, err,
			"retry clicked (via whitelisting-failed error)", dirProps(dir),
			func(ctx context.Context) { c.whitelist(ctx, dir) },
			"whitelisting error dismissed")
		return
	}
	c.track("whitelisting succeeded", dirProps(dir))
	c.recheck(ctx)
}

// recheck runs a non-forced check for the most recent path after a flow
// step succeeds.
func (c *Checker) recheck(ctx context.Context) {
	if _, err := c.Ensure(ctx, c.currentPath(), false); err != nil {
		c.log.Debug("readiness recheck failed", "err", err)
	}
}
