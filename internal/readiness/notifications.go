package readiness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"pkt.systems/kitelink/internal/logx"
	"pkt.systems/kitelink/schema"
)

// Notification button ids.
const (
	ButtonInstall = "install"
	ButtonStart   = "start"
	ButtonLogin   = "login"
	ButtonEnable  = "enable"
	ButtonRetry   = "retry"
)

const iconUnavailable = "circle-slash"

type action struct {
	metric string
	props  map[string]any
	run    func(ctx context.Context)
}

// pending is a published notification waiting for a click or dismissal.
type pending struct {
	note      schema.Notification
	actions   map[string]action
	dismissed string
	props     map[string]any
}

func newNotificationID() string {
	return uuid.NewString()
}

// publish registers n with its button actions and delivers it.
func (c *Checker) publish(n schema.Notification, actions map[string]action, dismissed string, dismissProps map[string]any) schema.Notification {
	n.ID = c.newID()
	if n.Kind == "" {
		n.Kind = schema.NotificationNotice
	}
	c.mu.Lock()
	c.active[n.ID] = &pending{note: n, actions: actions, dismissed: dismissed, props: dismissProps}
	c.mu.Unlock()
	logx.WithNotification(c.log, n).Debug("notification published", "level", n.Level)
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
	return n
}

// Active returns the notifications that have not been clicked or dismissed.
func (c *Checker) Active() []schema.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Notification, 0, len(c.active))
	for _, p := range c.active {
		out = append(out, p.note)
	}
	return out
}

// Click runs the action behind button on notification id. The notification
// is closed and the action continues in the background with ctx.
func (c *Checker) Click(ctx context.Context, id, button string) error {
	c.mu.Lock()
	p, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", schema.ErrNotificationNotFound, id)
	}
	act, ok := p.actions[button]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", schema.ErrUnknownButton, button)
	}
	delete(c.active, id)
	c.mu.Unlock()

	logx.WithNotification(c.log, p.note).Info("notification clicked", "button", button)
	c.track(act.metric, act.props)
	c.flows.Add(1)
	go func() {
		defer c.flows.Done()
		act.run(ctx)
	}()
	return nil
}

// Dismiss closes notification id without acting on it.
func (c *Checker) Dismiss(id string) error {
	c.mu.Lock()
	p, ok := c.active[id]
	if ok {
		delete(c.active, id)
		if id == c.loginID {
			c.loginID = ""
		}
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrNotificationNotFound, id)
	}
	logx.WithNotification(c.log, p.note).Debug("notification dismissed")
	if p.dismissed != "" {
		c.track(p.dismissed, p.props)
	}
	return nil
}

func (c *Checker) warnNotSupported() {
	c.track("not-supported warning shown", nil)
	c.publish(schema.Notification{
		Level:       schema.NotificationError,
		Title:       "OS not supported",
		Description: "Sorry, Kite does not support this operating system at the moment.",
		Icon:        iconUnavailable,
		Dismissable: true,
	}, nil, "not-supported warning dismissed", nil)
}

func (c *Checker) warnNotInstalled() {
	c.track("not-installed warning shown", nil)
	c.publish(schema.Notification{
		Level:       schema.NotificationWarning,
		Title:       "Kite app missing",
		Description: "Install the Kite app to get next-generation completions, documentation, and more.",
		Icon:        iconUnavailable,
		Dismissable: true,
		Buttons:     []schema.Button{{ID: ButtonInstall, Text: "Install Kite"}},
	}, map[string]action{
		ButtonInstall: {metric: "install button clicked (via not-installed warning)", run: c.install},
	}, "not-installed warning dismissed", nil)
}

func (c *Checker) warnNotRunning() {
	c.track("not-running warning shown", nil)
	c.publish(schema.Notification{
		Level:       schema.NotificationWarning,
		Title:       "Kite not running",
		Description: "Start the Kite app to get Python completions and docs.",
		Icon:        iconUnavailable,
		Dismissable: true,
		Buttons:     []schema.Button{{ID: ButtonStart, Text: "Start Kite"}},
	}, map[string]action{
		ButtonStart: {metric: "start button clicked (via not-running warning)", run: c.launch},
	}, "not-running warning dismissed", nil)
}

func (c *Checker) warnNotAuthenticated() {
	c.track("not-authenticated warning shown", nil)
	c.publish(schema.Notification{
		Level:       schema.NotificationWarning,
		Title:       "Kite not logged in",
		Description: "Kite needs to be authenticated, so that it can access the index of your code stored on the cloud.",
		Icon:        iconUnavailable,
		Dismissable: true,
		Buttons:     []schema.Button{{ID: ButtonLogin, Text: "Login"}},
	}, map[string]action{
		ButtonLogin: {metric: "login button clicked (via not-authenticated warning)", run: c.authenticate},
	}, "not-authenticated warning dismissed", nil)
}

func (c *Checker) warnNotWhitelisted(path string) {
	dir := filepath.Dir(path)
	c.track("not-whitelisted warning shown", dirProps(dir))
	c.publish(schema.Notification{
		Level:       schema.NotificationWarning,
		Title:       "Kite is disabled for " + baseName(path),
		Description: "Would you like to enable Kite for Python files in " + dir + "?",
		Icon:        iconUnavailable,
		Dismissable: true,
		Buttons:     []schema.Button{{ID: ButtonEnable, Text: "Enable"}},
	}, map[string]action{
		ButtonEnable: {
			metric: "enable button clicked (via not-whitelisted warning)",
			props:  dirProps(dir),
			run:    func(ctx context.Context) { c.whitelist(ctx, dir) },
		},
	}, "not-whitelisted warning dismissed", dirProps(dir))
}

func (c *Checker) notifyReady() {
	c.track("ready notification shown", nil)
	c.publish(schema.Notification{
		Level:       schema.NotificationSuccess,
		Title:       "The Kite Menubar app is ready",
		Description: "We checked that the Menubar app is installed, running, responsive, and authenticated.",
		Dismissable: true,
	}, nil, "ready notification dismissed", nil)
}

// failure publishes an error notification with a Retry button.
func (c *Checker) failure(title string, err error, retryMetric string, retryProps map[string]any, retry func(context.Context), dismissed string) {
	c.publish(schema.Notification{
		Level:       schema.NotificationError,
		Title:       title,
		Description: err.Error(),
		Dismissable: true,
		Buttons:     []schema.Button{{ID: ButtonRetry, Text: "Retry"}},
	}, map[string]action{
		ButtonRetry: {metric: retryMetric, props: retryProps, run: retry},
	}, dismissed, nil)
}
