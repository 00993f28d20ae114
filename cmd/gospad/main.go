// gospad is the Single Packet Authorization collector daemon: it
// silently validates authenticated UDP datagrams and grants
// time-bounded firewall access to the stanza that authorizes them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/spad-project/gospad/internal/adminapi"
	"github.com/spad-project/gospad/internal/command"
	"github.com/spad-project/gospad/internal/config"
	"github.com/spad-project/gospad/internal/firewall"
	spametrics "github.com/spad-project/gospad/internal/metrics"
	"github.com/spad-project/gospad/internal/netio"
	"github.com/spad-project/gospad/internal/policyfile"
	"github.com/spad-project/gospad/internal/replaystore"
	"github.com/spad-project/gospad/internal/spa"
	appversion "github.com/spad-project/gospad/internal/version"
)

// shutdownTimeout bounds how long the HTTP servers are given to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// rulesSweepInterval is how often the firewall backend is asked to
// expire grants whose timeout has elapsed (§5).
const rulesSweepInterval = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight
// recorder, used for post-mortem debugging of a misbehaving run.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// rateLimitPerSecond and rateLimitBurst bound C1's per-source token
// bucket (§5 resource discipline).
const (
	rateLimitPerSecond = 5.0
	rateLimitBurst      = 10.0
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gospad starting",
		slog.String("version", appversion.Version),
		slog.String("network_addr", cfg.Network.Addr),
		slog.Uint64("network_port", uint64(cfg.Network.Port)),
		slog.String("firewall_backend", cfg.Firewall.Backend),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := spametrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("gospad exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gospad stopped")
	return 0
}

// runDaemon wires C1–C8 together and runs every server and background
// goroutine under a signal-aware errgroup until shutdown.
func runDaemon(
	cfg *config.Config,
	collector *spametrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	replayStore, err := openReplayStore(cfg.Replay)
	if err != nil {
		return fmt.Errorf("open replay store: %w", err)
	}
	defer closeReplayStore(replayStore, logger)

	stanzas, err := policyfile.Load(cfg.Access.PolicyFile)
	if err != nil {
		return fmt.Errorf("load access policy %s: %w", cfg.Access.PolicyFile, err)
	}
	stanzaSet := spa.NewStanzaSet(stanzas)
	logger.Info("access policy loaded", slog.Int("stanza_count", stanzaSet.Len()))

	fwBackend, err := openFirewallBackend(context.Background(), cfg.Firewall)
	if err != nil {
		return fmt.Errorf("open firewall backend %s: %w", cfg.Firewall.Backend, err)
	}

	pipeline := &spa.Pipeline{
		Config:      pipelineConfig(cfg),
		Stanzas:     stanzaSet,
		ReplayStore: replayStore,
		Catalog:     spa.DefaultServiceCatalog(),
		RateLimiter: spa.NewRateLimiter(rateLimitPerSecond, rateLimitBurst),
		Firewall:    fwBackend,
		Commands:    command.Runner{},
		Logger:      logger.With(slog.String("component", "pipeline")),
	}

	addr, err := cfg.Network.BindAddr()
	if err != nil {
		return fmt.Errorf("resolve network.addr: %w", err)
	}
	listener, err := netio.NewListener(netio.ListenerConfig{Addr: addr, Port: cfg.Network.Port})
	if err != nil {
		return fmt.Errorf("create UDP listener: %w", err)
	}
	defer closeListener(listener, logger)

	recv := netio.NewReceiver(pipeline, logger)

	provider := statusProvider{stanzas: stanzaSet, replay: replayStore, firewall: fwBackend}
	adminSrv := newAdminServer(cfg.Admin, provider, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return recv.Run(gCtx, listener)
	})

	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, stanzaSet, logger)

	g.Go(func() error {
		return sweepExpiredGrants(gCtx, fwBackend, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, fwBackend, logger, fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// pipelineConfig translates the loaded configuration into the
// pipeline's evaluator/action toggles (§4.6, §4.7). NAT dispatch is
// always compiled in; NATEnabled/LocalNATEnabled are the operator's
// runtime switches.
func pipelineConfig(cfg *config.Config) spa.Config {
	return spa.Config{
		HTTPEnabled:    cfg.Network.EnableSPAOverHTTP,
		IdentifierMode: !cfg.Network.DisableSDPMode,
		Evaluator: spa.EvaluatorConfig{
			AllowLegacyAccessRequests: cfg.Access.AllowLegacyAccessRequests,
			PacketAgingEnabled:        cfg.Access.EnableSPAPacketAging,
			MaxSPAPacketAge:           cfg.Access.MaxSPAPacketAge,
			NATSupported:              true,
			NATEnabled:                cfg.Access.EnableNAT,
			LocalNATSupported:         true,
			LocalNATEnabled:           cfg.Access.EnableLocalNAT,
			CheckPortAccess:           cfg.Access.CheckPortAccess,
			CheckServiceAccess:        cfg.Access.CheckServiceAccess,
		},
		Action: spa.ActionConfig{
			TestMode: cfg.Access.TestMode,
		},
	}
}

// openReplayStore returns a persistent bbolt-backed store, or
// spa.NullStore when digest persistence is disabled by configuration.
func openReplayStore(cfg config.ReplayConfig) (spa.ReplayStore, error) {
	if !cfg.EnableDigestPersistence {
		return spa.NullStore{}, nil
	}
	store, err := replaystore.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("replaystore: %w", err)
	}
	return store, nil
}

func closeReplayStore(store spa.ReplayStore, logger *slog.Logger) {
	closer, ok := store.(*replaystore.Store)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close replay store", slog.String("error", err.Error()))
	}
}

// openFirewallBackend selects and constructs the configured firewall
// collaborator (§6).
func openFirewallBackend(ctx context.Context, cfg config.FirewallConfig) (spa.FirewallBackend, error) {
	switch cfg.Backend {
	case "ovsdb":
		return firewall.NewOVSDBBackend(ctx, cfg.OVSDB.Endpoint, cfg.OVSDB.LogicalPort)
	default:
		return firewall.NewNFTablesBackend(cfg.NFTables.TableName, "nft"), nil
	}
}

func closeListener(ln *netio.Listener, logger *slog.Logger) {
	if err := ln.Close(); err != nil {
		logger.Warn("failed to close UDP listener", slog.String("error", err.Error()))
	}
}

// sweepExpiredGrants periodically asks the firewall backend to drop
// grants past their timeout (§5).
func sweepExpiredGrants(ctx context.Context, fw spa.FirewallBackend, logger *slog.Logger) error {
	ticker := time.NewTicker(rulesSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fw.CheckAndExpireRules(ctx, false); err != nil {
				logger.Warn("rule expiry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Admin status provider
// -------------------------------------------------------------------------

// statusProvider adapts the daemon's live collaborators to
// adminapi.StatusProvider.
type statusProvider struct {
	stanzas  *spa.StanzaSet
	replay   spa.ReplayStore
	firewall spa.FirewallBackend
}

func (p statusProvider) StanzaCount() int { return p.stanzas.Len() }

func (p statusProvider) ReplayStoreSize() (int, error) {
	sized, ok := p.replay.(interface{ Len() (int, error) })
	if !ok {
		return 0, nil
	}
	return sized.Len()
}

func (p statusProvider) ActiveGrants() int {
	sized, ok := p.firewall.(interface{ Len() int })
	if !ok {
		return 0
	}
	return sized.Len()
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half
// the configured interval, as systemd recommends.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + access policy
// -------------------------------------------------------------------------

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	stanzas *spa.StanzaSet,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, stanzas, logger)
		return nil
	})
}

// handleSIGHUP reloads configuration and the access policy file on
// every SIGHUP until ctx is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	stanzas *spa.StanzaSet,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, stanzas, logger)
		}
	}
}

// reloadConfig reloads configuration and the access-stanza policy
// file, updating the dynamic log level and atomically swapping the
// stanza set. Errors leave the previous configuration and policy in
// effect.
func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	stanzas *spa.StanzaSet,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	newStanzas, err := policyfile.Load(newCfg.Access.PolicyFile)
	if err != nil {
		logger.Error("failed to reload access policy, keeping current stanzas",
			slog.String("error", err.Error()))
		return
	}
	stanzas.Reload(newStanzas)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
		slog.Int("stanza_count", stanzas.Len()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd,
// releases every firewall grant the daemon is still holding open,
// stops the flight recorder, then shuts down HTTP servers.
func gracefulShutdown(
	ctx context.Context,
	fw spa.FirewallBackend,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if err := fw.CleanupAll(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("failed to clean up firewall grants", slog.String("error", err.Error()))
	}

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder starts a rolling execution-trace window for
// post-mortem debugging of a misbehaving run. The daemon stops it at
// shutdown; nothing in the daemon writes the window out.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// HTTP Servers
// -------------------------------------------------------------------------

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin API listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newAdminServer(cfg config.AdminConfig, provider adminapi.StatusProvider, logger *slog.Logger) *http.Server {
	srv := adminapi.NewServer(provider, appversion.Version, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Config loading
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
