// Package rshell composes a remote console server from its parts: the
// shared cache, session store, lock manager, ACL, dispatcher, console
// listener, and the operational HTTP endpoint.
package rshell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/rshell/cache"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/consoleserver"
	"pkt.systems/rshell/core"
	"pkt.systems/rshell/httpapi"
	"pkt.systems/rshell/internal/acl"
	"pkt.systems/rshell/internal/appconfig"
	"pkt.systems/rshell/internal/eventbus"
	"pkt.systems/rshell/internal/lock"
	"pkt.systems/rshell/internal/metrics"
	"pkt.systems/rshell/internal/portrange"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/internal/version"
)

// Server runs a console until stopped.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Addr is the console listen address once started.
	Addr() string
	// MetricsAddr is the HTTP listen address, empty when disabled.
	MetricsAddr() string
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Config appconfig.Config
	// Registry holds the served commands. New seals it.
	Registry *command.Registry
	Logger   pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	watchPath  string
	cache      cache.Cache
	listenAddr string
}

// WithConfigWatch reloads ACL users whenever the file at path changes.
func WithConfigWatch(path string) ServerOption {
	return func(o *serverOptions) { o.watchPath = path }
}

// WithCache uses c instead of opening cache.url. The server does not close c.
func WithCache(c cache.Cache) ServerOption {
	return func(o *serverOptions) { o.cache = c }
}

// WithListenAddr overrides the derived console listen address.
func WithListenAddr(addr string) ServerOption {
	return func(o *serverOptions) { o.listenAddr = addr }
}

// ListenAddr returns bind_addr:port, deriving the port from app_name and
// port_range unless server.port is set.
func ListenAddr(cfg appconfig.Config) (string, error) {
	port := cfg.Server.Port
	if port == 0 {
		r, err := portrange.Parse(cfg.Server.PortRange)
		if err != nil {
			return "", err
		}
		if port, err = portrange.Port(cfg.AppName, r); err != nil {
			return "", err
		}
	}
	return net.JoinHostPort(cfg.Server.BindAddr, strconv.Itoa(port)), nil
}

// New validates cfg and builds the parts that do not need I/O.
func New(cfg ServerConfig, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if cfg.Registry == nil {
		return nil, errors.New("command registry is required")
	}
	if err := appconfig.Validate(cfg.Config); err != nil {
		return nil, err
	}
	addr := options.listenAddr
	if addr == "" {
		derived, err := ListenAddr(cfg.Config)
		if err != nil {
			return nil, err
		}
		addr = derived
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	access, err := acl.New(acl.Config{
		Enabled: cfg.Config.ACL.Enabled,
		Timeout: cfg.Config.ACL.Timeout(),
		Users:   toACLUsers(cfg.Config.ACL.Users),
	}, logger)
	if err != nil {
		return nil, err
	}
	cfg.Registry.Seal()
	return &compositeServer{
		cfg:     cfg,
		options: options,
		addr:    addr,
		acl:     access,
		metrics: metrics.New(cfg.Config.AppName),
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	addr    string
	acl     *acl.ACL
	metrics *metrics.Metrics

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	logger      pslog.Logger
	errCh       chan error
	done        chan struct{}
	wg          sync.WaitGroup
	started     bool
	listenAddr  string
	metricsAddr string
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
	s.started = true
	s.mu.Unlock()

	log := s.cfg.Logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	conf := s.cfg.Config

	store := s.options.cache
	ownCache := store == nil
	if ownCache {
		opened, err := OpenCache(ctx, conf.Cache.URL)
		if err != nil {
			return s.abort(fmt.Errorf("open cache: %w", err))
		}
		store = opened
	}
	closeCache := func() {
		if !ownCache {
			return
		}
		if err := store.Close(); err != nil {
			log.Warn("cache close failed", "err", err)
		}
	}

	console, sessions, bus, err := s.build(store, log)
	if err != nil {
		closeCache()
		return s.abort(err)
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		closeCache()
		return s.abort(fmt.Errorf("console listen on %s: %w", s.addr, err))
	}
	var metricsLn net.Listener
	if conf.Metrics.Addr != "" {
		if metricsLn, err = net.Listen("tcp", conf.Metrics.Addr); err != nil {
			_ = ln.Close()
			closeCache()
			return s.abort(fmt.Errorf("metrics listen on %s: %w", conf.Metrics.Addr, err))
		}
	}
	var watcher *configWatcher
	if s.options.watchPath != "" {
		if watcher, err = newConfigWatcher(s.options.watchPath, s.applyConfig, log); err != nil {
			_ = ln.Close()
			if metricsLn != nil {
				_ = metricsLn.Close()
			}
			closeCache()
			return s.abort(err)
		}
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, log))
	s.errCh = make(chan error, 3)
	s.done = make(chan struct{})
	s.logger = log
	s.listenAddr = ln.Addr().String()
	if metricsLn != nil {
		s.metricsAddr = metricsLn.Addr().String()
	}
	runCtx := s.ctx
	s.mu.Unlock()

	if !conf.Logging.DisableAuditTrails {
		events, cancelSub := bus.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer cancelSub()
			runAuditTrail(runCtx, events, log)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := console.Serve(runCtx, ln); err != nil {
			log.Error("console server failed", "err", err)
			s.errCh <- err
		}
	}()
	if metricsLn != nil {
		handler := httpapi.Handler(httpapi.Config{
			AppName:  conf.AppName,
			Version:  version.Current(),
			Metrics:  s.metrics,
			Sessions: sessions,
			Ready:    s.Addr,
		})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := httpapi.Serve(runCtx, metricsLn, handler); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if watcher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			watcher.run(runCtx)
		}()
	}
	go func() {
		<-runCtx.Done()
		s.wg.Wait()
		closeCache()
		close(s.done)
	}()

	log.Info(
		"server start",
		"app", conf.AppName,
		"version", version.Current(),
		"addr", s.listenAddr,
		"cache", cacheScheme(conf.Cache.URL, ownCache),
		"acl", s.acl.Enabled(),
		"max_clients", conf.Server.MaxClients,
		"metrics_addr", s.metricsAddr,
		"watch_config", s.options.watchPath,
	)
	return nil
}

// abort resets the started flag after a failed Start.
func (s *compositeServer) abort(err error) error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return err
}

func (s *compositeServer) build(store cache.Cache, log pslog.Logger) (*consoleserver.Server, *session.Store, *eventbus.Bus, error) {
	conf := s.cfg.Config
	sessions, err := session.NewStore(store, session.Config{
		Namespace: conf.Cache.SessionNamespace,
		TTL:       conf.Cache.SessionTTL(),
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}
	host, _ := os.Hostname()
	locks, err := lock.NewManager(store, lock.Config{
		Host:         host,
		PollInterval: conf.Lock.PollInterval(),
		OnAcquire:    s.metrics.LockAcquire,
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}
	bus := eventbus.New(log)
	events := newEventFanout(bus, s.metrics)
	var authorizer core.Authorizer
	if s.acl.Enabled() {
		authorizer = s.acl
	}
	dispatcher, err := core.NewDispatcher(core.DispatcherConfig{
		Registry:           s.cfg.Registry,
		Locks:              locks,
		Authorizer:         authorizer,
		Events:             events,
		Logger:             log,
		LockTTL:            conf.Lock.TTL(),
		LockWait:           conf.Lock.Wait(),
		CommandTimeout:     conf.Server.CommandTimeout(),
		DisableAuditTrails: conf.Logging.DisableAuditTrails,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	console, err := consoleserver.New(consoleserver.Config{
		AppName:         conf.AppName,
		ServerVersion:   version.Current(),
		Dispatcher:      dispatcher,
		Sessions:        sessions,
		ACL:             s.acl,
		Events:          events,
		Signals:         s.metrics,
		MaxClients:      conf.Server.MaxClients,
		MaxMessageBytes: conf.Server.MaxMessageBytes,
		Logger:          log,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return console, sessions, bus, nil
}

// applyConfig hot-swaps the ACL user table.
func (s *compositeServer) applyConfig(cfg appconfig.Config) error {
	if cfg.ACL.Enabled != s.acl.Enabled() {
		s.logger.Warn("acl enabled flag changed, restart required", "configured", cfg.ACL.Enabled, "running", s.acl.Enabled())
	}
	return s.acl.Replace(toACLUsers(cfg.ACL.Users))
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	done := s.done
	s.mu.Unlock()
	if ctx == nil {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		<-done
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
	done := s.done
	log := s.logger
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	log.Info("server stop requested")
	cancel()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

func (s *compositeServer) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

func cacheScheme(raw string, owned bool) string {
	if !owned {
		return "injected"
	}
	scheme, _, _ := strings.Cut(raw, "://")
	return scheme
}

func toACLUsers(users []appconfig.ACLUser) []acl.User {
	if len(users) == 0 {
		return nil
	}
	out := make([]acl.User, 0, len(users))
	for _, user := range users {
		out = append(out, acl.User{
			Username:     user.Username,
			Password:     user.Password,
			PasswordHash: user.PasswordHash,
			TOTPSecret:   user.TOTPSecret,
			Permissions:  user.Permissions,
		})
	}
	return out
}
