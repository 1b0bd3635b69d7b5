package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/clawguard/clawguard/internal/adapter/inbound/admin"
	httpadapter "github.com/clawguard/clawguard/internal/adapter/inbound/http"
	"github.com/clawguard/clawguard/internal/adapter/inbound/proxy"
	"github.com/clawguard/clawguard/internal/adapter/outbound/memory"
	"github.com/clawguard/clawguard/internal/adapter/outbound/sqlite"
	"github.com/clawguard/clawguard/internal/adapter/outbound/telegram"
	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/domain/approval"
	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/guard"
	"github.com/clawguard/clawguard/internal/domain/service"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ClawGuard proxy server",
	Long: `Start the ClawGuard proxy server: load config, open the Audit Store,
start the Telegram notifier, hydrate the Approval Coordinator, and begin
serving the gated reverse proxy and admin API.

Examples:
  clawguard start
  clawguard start --dev`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (in-memory audit store, permissive defaults)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// ctx is canceled on the first Ctrl+C; stop() restores default signal
	// handling so a second Ctrl+C force-kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("clawguard stopped")
	return nil
}

// run wires every component and serves until ctx is canceled: Audit Store
// → service Table → Out-of-Band Notifier → Approval Coordinator → Proxy
// Engine → admin API → HTTP server.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	if cfg.Audit.Backend != "memory" && cfg.Audit.DBPath != "" {
		lockFile, err := acquireDBLock(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("failed to lock audit database (is ClawGuard already running?): %w", err)
		}
		defer releaseDBLock(lockFile)
	}

	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer auditStore.Close()

	guardCfg := guard.Config{
		Allowlist:       cfg.Guard.Allowlist,
		BlockPrivateIPs: cfg.Guard.BlockPrivateIPs != nil && *cfg.Guard.BlockPrivateIPs,
	}

	table := buildServiceTable(cfg)
	if err := hydrateServiceOverrides(ctx, table, auditStore, guardCfg, logger); err != nil {
		logger.Warn("failed to hydrate service overrides", "error", err)
	}

	n := buildNotifier(cfg, auditStore, logger, table)
	go func() {
		if err := n.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("telegram notifier: polling loop exited", "error", err)
		}
	}()

	deadline, err := time.ParseDuration(cfg.Guard.ApprovalPipelineDeadline)
	if err != nil {
		deadline = approval.DefaultPipelineDeadline
	}
	coordinator := approval.New(auditStore, n, logger, deadline)
	if err := coordinator.Hydrate(ctx); err != nil {
		return fmt.Errorf("failed to hydrate approval coordinator: %w", err)
	}

	engine := proxy.New(table, coordinator, auditStore, proxy.Config{
		Guard:              guardCfg,
		AgentSecretHash:    cfg.Agent.SecretHash,
		LegacyAliasAccept:  cfg.Agent.AcceptLegacyHeaderAlias,
		PayloadCaptureOn:   cfg.Audit.PayloadCaptureEnabled != nil && *cfg.Audit.PayloadCaptureEnabled,
		MaxPayloadLogBytes: cfg.Audit.MaxPayloadLogBytes,
	}, logger)
	engine.SetVersion(Version)

	queryStore, _ := auditStore.(audit.QueryStore)
	adminHandler := admin.New(
		admin.WithTable(table),
		admin.WithCoordinator(coordinator),
		admin.WithAuditStore(auditStore),
		admin.WithQueryStore(queryStore),
		admin.WithGuardConfig(guardCfg),
		admin.WithIPAllowlist(cfg.Admin.IPAllowlist),
		admin.WithPINHash(cfg.Admin.SessionPINHash),
		admin.WithLogger(logger),
		admin.WithVersion(Version),
	)

	if err := startConfigWatcher(ctx, n, adminHandler, engine, logger); err != nil {
		logger.Warn("config watcher not started", "error", err)
	}

	reg := prometheus.NewRegistry()
	metrics := httpadapter.NewMetrics(reg)
	stopGaugeLoop := startGrantGaugeLoop(ctx, coordinator, metrics)
	defer stopGaugeLoop()

	healthChecker := httpadapter.NewHealthChecker(auditStore, func() httpadapter.GrantSnapshot {
		return httpadapter.GrantSnapshot{ActiveGrants: len(coordinator.ActiveGrants())}
	}, Version)

	shutdownTracing := setupTelemetry(ctx, logger)
	defer shutdownTracing()

	mux := http.NewServeMux()
	mux.Handle("/__admin/", adminHandler.Routes())
	mux.Handle("/health", healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", engine)

	handler := httpadapter.RequestIDMiddleware(logger)(
		httpadapter.RealIPMiddleware(
			httpadapter.MetricsMiddleware(metrics)(mux),
		),
	)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("clawguard listening", "addr", cfg.Server.HTTPAddr, "routing_mode", cfg.Server.RoutingMode, "dev_mode", cfg.DevMode, "uptime_start", startTime)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed, closing listeners", "error", err)
	}
	_ = auditStore.Flush(shutdownCtx)
	return nil
}

// createAuditStore opens the configured Audit Store backend.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "memory":
		logger.Debug("audit backend: memory", "buffer_size", cfg.Audit.BufferSize)
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil
	case "sqlite", "":
		logger.Debug("audit backend: sqlite", "path", cfg.Audit.DBPath)
		return sqlite.Open(cfg.Audit.DBPath)
	default:
		return nil, fmt.Errorf("unrecognized audit backend %q", cfg.Audit.Backend)
	}
}

// buildServiceTable converts the static config catalog into the live
// service Table the Proxy Engine dispatches against.
func buildServiceTable(cfg *config.Config) *service.Table {
	table := service.NewTable()
	defs := make([]service.ServiceDefinition, len(cfg.Services))
	for i, svc := range cfg.Services {
		defs[i] = toServiceDefinition(svc)
	}
	table.Set(defs)
	return table
}

func toServiceDefinition(svc config.ServiceConfig) service.ServiceDefinition {
	rules := make([]service.PolicyRule, len(svc.Policy.Rules))
	for i, r := range svc.Policy.Rules {
		rules[i] = service.PolicyRule{
			Method:     r.Method,
			PathPrefix: r.PathPrefix,
			Action:     service.Action(r.Action),
		}
	}
	return service.ServiceDefinition{
		Name:               svc.Name,
		UpstreamBaseURL:    svc.UpstreamBaseURL,
		InterceptHostnames: svc.InterceptHostnames,
		Credential: service.CredentialRecipe{
			Kind:  service.CredentialKind(svc.Credential.Kind),
			Name:  svc.Credential.Name,
			Token: svc.Credential.Token,
		},
		Policy: service.Policy{
			DefaultAction: service.Action(svc.Policy.DefaultAction),
			Rules:         rules,
		},
	}
}

// hydrateServiceOverrides replays persisted admin-plane overrides on top
// of the config-sourced table, matching the Approval Coordinator's own
// persist-then-install hydration at startup. Every override is
// re-validated against the currently loaded Security Guard policy the
// same way the admin write path does: a service that passed the guard
// when it was saved but would now be rejected (e.g. the allowlist
// tightened since) is skipped with a warning rather than installed.
func hydrateServiceOverrides(ctx context.Context, table *service.Table, store audit.Store, guardCfg guard.Config, logger *slog.Logger) error {
	rows, err := store.ListServiceOverrides(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		var def service.ServiceDefinition
		if err := json.Unmarshal([]byte(row.ConfigJSON), &def); err != nil {
			logger.Warn("skipping malformed service override", "service", row.ServiceName, "error", err)
			continue
		}
		base, err := url.Parse(def.UpstreamBaseURL)
		if err != nil || base.Host == "" {
			logger.Warn("skipping service override with invalid upstreamBaseURL", "service", row.ServiceName)
			continue
		}
		if ok, reason := guardCfg.ValidateUpstream(base, base); !ok {
			logger.Warn("skipping service override rejected by security guard", "service", row.ServiceName, "reason", reason)
			continue
		}
		table.Upsert(def)
	}
	return nil
}

// buildNotifier constructs the Telegram Out-of-Band Notifier, wiring
// pairing persistence and the /status reply. statusFn only needs the
// service Table (built before the notifier); full Grant detail is
// available from the proxy's own /__status endpoint.
func buildNotifier(cfg *config.Config, store audit.Store, logger *slog.Logger, table *service.Table) *telegram.Notifier {
	opts := []telegram.Option{
		telegram.WithAuditStore(store),
		telegram.WithStatusProvider(func(ctx context.Context) string {
			names := table.Names()
			return fmt.Sprintf("%d services configured: %s", len(names), strings.Join(names, ", "))
		}),
	}
	if cfg.Notifier.Telegram.PairingEnabled {
		opts = append(opts, telegram.WithPairing(cfg.Notifier.Telegram.PairingSecretHash))
	}
	return telegram.New(cfg.Notifier.Telegram.BotToken, cfg.Notifier.Telegram.ChatID, logger, opts...)
}

// startConfigWatcher wires the fsnotify-backed config hot-reload: bot
// pairing settings, payload-capture toggle/cap, and the admin IP
// allowlist take effect on the next config-file write without a restart.
// Everything else in Config (service catalog, listen address, audit
// backend) only takes effect on the next start. Returns nil, nil-ish
// (no error) when no config file is in use, since NewWatcher itself
// returns a nil watcher in that case.
func startConfigWatcher(ctx context.Context, n *telegram.Notifier, adminHandler *admin.AdminAPIHandler, engine *proxy.Engine, logger *slog.Logger) error {
	watcher, err := config.NewWatcher(logger, func(fields config.WatchableFields) {
		if fields.Telegram.PairingEnabled {
			n.SetPairing(true, fields.Telegram.PairingSecretHash)
		} else {
			n.SetPairing(false, "")
		}
		captureOn := fields.PayloadCaptureEnabled != nil && *fields.PayloadCaptureEnabled
		engine.SetPayloadCapture(captureOn, fields.MaxPayloadLogBytes)
		adminHandler.SetIPAllowlist(fields.AdminIPAllowlist)
	})
	if err != nil {
		return err
	}
	if watcher == nil {
		return nil
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("config watcher exited", "error", err)
		}
	}()
	return nil
}

// startGrantGaugeLoop periodically samples the Approval Coordinator's
// live Grant count into the active_grants gauge, since Grants change
// outside of any single HTTP request (expiry, admin revocation).
func startGrantGaugeLoop(ctx context.Context, coordinator *approval.Coordinator, metrics *httpadapter.Metrics) func() {
	ticker := time.NewTicker(5 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.ActiveGrants.Set(float64(len(coordinator.ActiveGrants())))
			}
		}
	}()
	return func() {
		ticker.Stop()
		<-done
	}
}

// setupTelemetry installs the OpenTelemetry stdout trace and metric
// exporters. Production deployments would swap these for an OTLP
// exporter; ClawGuard has no SIEM integration, but the ambient
// OpenTelemetry stack still runs, writing spans and metrics to stderr
// for local inspection.
func setupTelemetry(ctx context.Context, logger *slog.Logger) func() {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("clawguard"),
		semconv.ServiceVersion(Version),
	))
	if err != nil {
		logger.Warn("otel: failed to build resource", "error", err)
		res = resource.Default()
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		logger.Warn("otel: failed to create trace exporter", "error", err)
		return func() {}
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		logger.Warn("otel: failed to create metric exporter", "error", err)
		return func() { _ = tracerProvider.Shutdown(context.Background()) }
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(60*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
		_ = meterProvider.Shutdown(shutdownCtx)
	}
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
