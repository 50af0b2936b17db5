// Package pcontext provides the per-process singleton that owns the bus
// connection, ConfigManager, and controller registry shared by every
// service hosted in one OS process (spec §4.4), grounded on
// original_source's ProcessContext.
package pcontext

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/bus"
	"github.com/araucaria-project/tcsd/internal/bus/jetstream"
	"github.com/araucaria-project/tcsd/internal/config"
	"github.com/araucaria-project/tcsd/internal/controller"
	"github.com/rs/zerolog"
)

// Options configures Initialize.
type Options struct {
	// ConfigFile is the path to the deployment's YAML file. Empty means
	// "use built-in defaults and environment discovery only".
	ConfigFile string
	// ArgsOverlay is the highest-priority configuration layer, populated
	// from CLI flags.
	ArgsOverlay map[string]any
	Log         zerolog.Logger
}

// Context is the singleton shared by every service hosted in this
// process: bus connection, ConfigManager, and controller registry.
type Context struct {
	log zerolog.Logger

	ConfigManager *config.Manager
	ConfigFile    string

	mu            sync.Mutex
	conn          bus.Conn
	ownsConn      bool
	subjectPrefix string
	controllers   map[string]*controller.Controller
}

var (
	instMu   sync.Mutex
	instance *Context
)

// Initialize returns the process-wide Context, creating it on first call
// and returning the existing instance on every subsequent call — spec
// §4.4's "call once per OS process" guarded by a mutex rather than a
// bare package global, so callers still thread the returned instance
// through explicitly (DESIGN NOTES §9's "explicit context struct passed
// down at startup" strategy).
func Initialize(ctx context.Context, opts Options) (*Context, error) {
	instMu.Lock()
	defer instMu.Unlock()
	if instance != nil {
		return instance, nil
	}

	c, err := newContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	instance = c
	return c, nil
}

func newContext(ctx context.Context, opts Options) (*Context, error) {
	log := opts.Log
	c := &Context{
		log:         log.With().Str("component", "pcontext").Logger(),
		ConfigFile:  opts.ConfigFile,
		controllers: make(map[string]*controller.Controller),
	}

	mgr := config.NewManager()
	mgr.AddSource(config.DefaultsSource{})
	if opts.ConfigFile != "" {
		mgr.AddSource(config.FileSource{Path: opts.ConfigFile})
	}
	if opts.ArgsOverlay != nil {
		mgr.AddSource(config.ArgsSource{Overlay: opts.ArgsOverlay})
	}
	c.ConfigManager = mgr

	rawMerged, err := mgr.GetRawConfig()
	if err != nil {
		return nil, fmt.Errorf("pcontext: resolving config: %w", err)
	}
	raw, err := config.DecodeRawConfig(rawMerged)
	if err != nil {
		return nil, fmt.Errorf("pcontext: decoding config: %w", err)
	}

	if opts.ConfigFile != "" {
		if err := c.initBus(ctx, raw.NATS); err != nil {
			return nil, err
		}
	} else {
		c.discoverOrDefaultBus(ctx)
	}

	if c.conn != nil && raw.NATS.ConfigSubject != "" {
		mgr.AddSource(config.BusSource{Conn: c.conn, Subject: raw.NATS.ConfigSubject})
	}

	return c, nil
}

// initBus opens a bus connection from an explicit NATS config section
// (spec §4.4 step 2). required=true blocks until connected; required=false
// logs a warning and continues without a bus on failure.
func (c *Context) initBus(ctx context.Context, nc config.NATSConfig) error {
	url := fmt.Sprintf("nats://%s:%d", nc.Host, nc.Port)
	conn, err := jetstream.Open(ctx, jetstream.Options{URL: url}, nc.Required)
	if err != nil {
		if nc.Required {
			return fmt.Errorf("pcontext: nats required but connection failed: %w", err)
		}
		c.log.Warn().Err(err).Msg("failed to initialize bus connection, continuing without it")
		return nil
	}

	c.conn = conn
	c.ownsConn = true
	c.subjectPrefix = nc.SubjectPrefix
	bus.Register(conn)
	c.log.Debug().Str("url", url).Msg("bus connection initialized")
	return nil
}

// discoverOrDefaultBus implements spec §4.4 step 3's fallback path for a
// process with no config file: first try the process-wide discoverable
// singleton, then NATS_HOST/NATS_PORT env vars, then localhost:4222. Any
// failure here is non-fatal — the process continues with monitoring
// disabled, exactly as the original's _discover_or_default_messenger.
func (c *Context) discoverOrDefaultBus(ctx context.Context) {
	if conn, ok := bus.Discover(); ok {
		c.conn = conn
		c.ownsConn = false
		c.log.Info().Msg("discovered existing bus connection, not owned")
		return
	}

	host := envOr("NATS_HOST", "localhost")
	port := 4222
	if v, ok := os.LookupEnv("NATS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		} else {
			c.log.Warn().Str("NATS_PORT", v).Msg("invalid NATS_PORT, using default")
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := jetstream.Open(dialCtx, jetstream.Options{
		URL:            fmt.Sprintf("nats://%s:%d", host, port),
		ConnectTimeout: 2 * time.Second,
	}, false)
	if err != nil {
		c.log.Warn().Err(err).Str("host", host).Int("port", port).
			Msg("could not connect to bus, continuing without it")
		return
	}

	c.conn = conn
	c.ownsConn = true
	bus.Register(conn)
	c.log.Info().Str("host", host).Int("port", port).Msg("connected to bus")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Conn returns the shared bus connection, or nil if none is available.
func (c *Context) Conn() bus.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SubjectPrefix returns the subject prefix resolved from the nats config
// section (empty means callers should fall back to bus.DefaultSubjectPrefix).
func (c *Context) SubjectPrefix() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subjectPrefix
}

// RegisterController adds ctrl to the process-wide controller registry,
// keyed by "{module_name}:{instance_id}" as in original_source.
func (c *Context) RegisterController(ctrl *controller.Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controllers[controllerKey(ctrl.ModuleName, ctrl.InstanceID)] = ctrl
}

// UnregisterController removes ctrl from the registry.
func (c *Context) UnregisterController(ctrl *controller.Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.controllers, controllerKey(ctrl.ModuleName, ctrl.InstanceID))
}

// GetController looks up a previously registered controller.
func (c *Context) GetController(moduleName, instanceID string) (*controller.Controller, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctrl, ok := c.controllers[controllerKey(moduleName, instanceID)]
	return ctrl, ok
}

func controllerKey(moduleName, instanceID string) string {
	return moduleName + ":" + instanceID
}

// Shutdown tears down every registered controller, closes an owned bus
// connection, and clears the singleton so a later Initialize call starts
// fresh. Idempotent: a second call after shutdown is a no-op.
func (c *Context) Shutdown(ctx context.Context) error {
	instMu.Lock()
	defer instMu.Unlock()
	if instance != c {
		return nil
	}

	c.mu.Lock()
	controllers := make([]*controller.Controller, 0, len(c.controllers))
	for _, ctrl := range c.controllers {
		controllers = append(controllers, ctrl)
	}
	conn := c.conn
	owns := c.ownsConn
	c.mu.Unlock()

	for _, ctrl := range controllers {
		if err := ctrl.Shutdown(ctx); err != nil {
			c.log.Error().Err(err).Str("controller", ctrl.ServiceID).Msg("error shutting down controller")
		}
	}

	if conn != nil {
		bus.Unregister(conn)
		if owns {
			if err := conn.Close(); err != nil {
				c.log.Warn().Err(err).Msg("error closing owned bus connection")
			}
		}
	}

	instance = nil
	c.log.Info().Msg("pcontext shutdown complete")
	return nil
}
