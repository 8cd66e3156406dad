package kitelink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/kitelink/core"
	"pkt.systems/kitelink/httpapi"
	"pkt.systems/kitelink/internal/appconfig"
	"pkt.systems/kitelink/internal/editor"
	"pkt.systems/kitelink/internal/eventbus"
	"pkt.systems/kitelink/internal/kiteclient"
	"pkt.systems/kitelink/internal/localconfig"
	"pkt.systems/kitelink/internal/loop"
	"pkt.systems/kitelink/internal/metrics"
	"pkt.systems/kitelink/internal/readiness"
	"pkt.systems/kitelink/internal/version"
	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// Server composes the event loop, daemon client and local HTTP API.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Source        string
	EditorVersion string
	StateDir      string
	Daemon        kiteclient.Config
	Prober        kiteclient.ProberConfig
	HTTP          httpapi.Config
	Metrics       metrics.Config
	// Completions is the initial state of the completions proxy.
	Completions         bool
	ConnectErrorLockout time.Duration
	NotifyDelay         time.Duration
	// ConfigPath is watched for completions.enabled changes when set.
	ConfigPath string
}

// ServerDeps captures dependencies required to build the server. Nil fields
// are built from ServerConfig.
type ServerDeps struct {
	Logger     pslog.Logger
	Controller readiness.StateController
	Metrics    metrics.Sink
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
}

// WithHTTP enables the local HTTP API.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// New constructs a composable kitelink server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	source := schema.NormalizeSource(cfg.Source)

	daemonCfg := cfg.Daemon
	daemonCfg.Source = source
	if daemonCfg.Logger == nil {
		daemonCfg.Logger = logger
	}
	client, err := kiteclient.New(daemonCfg)
	if err != nil {
		return nil, err
	}

	sink := deps.Metrics
	var tracker *metrics.Tracker
	if sink == nil {
		metricsCfg := cfg.Metrics
		if metricsCfg.Enabled {
			id, err := distinctID(cfg.StateDir, metricsCfg.DistinctID, logger)
			if err != nil {
				return nil, err
			}
			metricsCfg.DistinctID = id
		}
		if metricsCfg.EditorVersion == "" {
			metricsCfg.EditorVersion = cfg.EditorVersion
		}
		if metricsCfg.PluginVersion == "" {
			metricsCfg.PluginVersion = version.Current()
		}
		if metricsCfg.Logger == nil {
			metricsCfg.Logger = logger
		}
		tracker = metrics.NewTracker(metricsCfg)
		sink = tracker
	}

	controller := deps.Controller
	if controller == nil {
		controller = kiteclient.NewProber(client, cfg.Prober)
	}

	hub := httpapi.NewHub(cfg.HTTP.HistorySize, logger)
	bus := eventbus.New(logger)
	checker := readiness.New(readiness.Config{
		Controller:  controller,
		Notifier:    notifyFanout{notifiers: []readiness.Notifier{hub, bus}},
		Metrics:     sink,
		NotifyDelay: cfg.NotifyDelay,
		Logger:      logger,
	})

	s := &compositeServer{
		cfg:      cfg,
		options:  options,
		logger:   logger,
		client:   client,
		sink:     sink,
		tracker:  tracker,
		checker:  checker,
		hub:      hub,
		bus:      bus,
		loop:     loop.New(logger),
		adapter:  editor.NewAdapter(source),
		reporter: core.NewFailureReporter(sink, cfg.ConnectErrorLockout, logger),
	}
	s.completions.Store(cfg.Completions)
	if options.enableHTTP {
		s.httpSrv = httpapi.NewServer(cfg.HTTP, httpapi.Deps{
			Events:             s,
			Errors:             client,
			Completions:        client,
			CompletionsEnabled: s.completions.Load,
			Readiness:          checker,
			Metrics:            sink,
			Hub:                hub,
			Bus:                bus,
			Adapter:            s.adapter,
		})
	}
	return s, nil
}

func distinctID(stateDir, fallback string, logger pslog.Logger) (string, error) {
	if stateDir == "" {
		return metrics.DistinctID(nil, fallback)
	}
	store, err := localconfig.Open(stateDir, logger)
	if err != nil {
		return "", err
	}
	return metrics.DistinctID(store, fallback)
}

type compositeServer struct {
	cfg         ServerConfig
	options     serverOptions
	logger      pslog.Logger
	client      *kiteclient.Client
	sink        metrics.Sink
	tracker     *metrics.Tracker
	checker     *readiness.Checker
	hub         *httpapi.Hub
	bus         *eventbus.Bus
	loop        *loop.Loop
	adapter     editor.Adapter
	reporter    *core.FailureReporter
	httpSrv     *httpapi.Server
	completions atomic.Bool

	coalescer *core.Coalescer
	bg        sync.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.coalescer = core.NewCoalescer(core.CoalescerDeps{
		Scheduler: s.loop,
		Transport: core.NewAsyncTransport(s.ctx, s.client, s.loop),
		Reporter:  s.reporter,
		OnLocked:  s.onLocked,
		OnFlush:   s.bus.OnFlush,
		Logger:    s.logger,
	})
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"http_addr", s.cfg.HTTP.Addr,
		"daemon_addr", s.cfg.Daemon.Addr,
		"completions", s.completions.Load(),
	)
	go func() {
		if err := s.loop.Run(s.ctx); err != nil {
			log.Error("event loop failed", "err", err)
			s.errCh <- err
		}
	}()
	if s.options.enableHTTP && s.httpSrv != nil {
		s.httpSrv.SetBaseContext(s.ctx)
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.cfg.ConfigPath != "" {
		if err := appconfig.Watch(s.cfg.ConfigPath, s.onConfigChange); err != nil {
			log.Warn("config watch failed", "path", s.cfg.ConfigPath, "err", err)
		}
	}

	s.sink.Track("activated", nil)
	activate := s.adapter.Activate()
	s.loop.Defer(func() { s.coalescer.Submit(activate) })
	s.background(func(ctx context.Context) {
		if _, err := s.checker.Ensure(ctx, "", false); err != nil {
			log.Warn("initial readiness check failed", "err", err)
		}
	})
	return nil
}

// SubmitBurst queues events on the loop within one task so they flush as a
// single burst.
func (s *compositeServer) SubmitBurst(ctx context.Context, events []schema.ActivityEvent) error {
	s.mu.Lock()
	coalescer := s.coalescer
	s.mu.Unlock()
	if coalescer == nil {
		return schema.ErrLoopClosed
	}
	return s.loop.Do(ctx, func() {
		for _, event := range events {
			coalescer.Submit(event)
		}
	})
}

func (s *compositeServer) onLocked(event schema.MergedEvent) {
	path := event.Filename
	s.background(func(ctx context.Context) {
		if _, err := s.checker.Ensure(ctx, path, false); err != nil {
			s.logger.Warn("readiness check failed", "file", path, "err", err)
		}
	})
}

func (s *compositeServer) onConfigChange(cfg appconfig.Config, err error) {
	if err != nil {
		s.logger.Warn("config reload rejected", "err", err)
		return
	}
	if s.completions.Swap(cfg.Completions.Enabled) != cfg.Completions.Enabled {
		s.logger.Info("completions toggled", "enabled", cfg.Completions.Enabled)
	}
}

func (s *compositeServer) background(fn func(ctx context.Context)) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(ctx)
	}()
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		s.checker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	}
	if s.tracker != nil {
		if err := s.tracker.Close(ctx); err != nil {
			log.Warn("metrics flush failed", "err", err)
			return err
		}
	}
	log.Info("server stopped")
	return nil
}
