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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"zusd/audit"
	"zusd/config"
	"zusd/core/events"
	"zusd/core/state"
	"zusd/crypto"
	"zusd/native/oracle"
	"zusd/native/token"
	"zusd/native/vault"
	"zusd/observability/logging"
	telemetry "zusd/observability/otel"
	"zusd/rpc"
	"zusd/storage"
)

const serviceName = "zusdd"

func main() {
	configFile := flag.String("config", "./zusd.toml", "Path to the configuration file")
	logLevelFlag := flag.String("log-level", "", "Minimum log level (debug, info, warn, error)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ZUSD_ENV"))
	level, levelErr := logging.ParseLevel(*logLevelFlag)
	logger := logging.SetupWithLevel(serviceName, env, level)
	if levelErr != nil {
		logger.Warn("Unknown log level, using info", slog.String("value", *logLevelFlag))
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}

	shutdownTelemetry := initTelemetry(logger, env)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}

	ledger := state.NewLedger(db)
	bank := token.NewBank(ledger)
	module := crypto.ModuleAddress("vault")

	symbols := make([]string, len(cfg.Collateral))
	feeds := make([]string, len(cfg.Collateral))
	for i, market := range cfg.Collateral {
		symbols[i] = market.Symbol
		feeds[i] = market.Feed
	}
	registry, err := vault.NewRegistry(symbols, feeds)
	if err != nil {
		logger.Error("Failed to build collateral registry", slog.Any("error", err))
		os.Exit(1)
	}

	adapter := oracle.NewAdapter()
	manualFeeds := make(map[string]*oracle.ManualFeed)
	var quoteCache *oracle.QuoteCache
	if cfg.Oracle.Manual {
		for _, market := range cfg.Collateral {
			feed := oracle.NewManualFeed()
			manualFeeds[market.Feed] = feed
			adapter.Bind(market.Feed, feed)
		}
	} else {
		quoteCache, err = oracle.OpenQuoteCache(filepath.Join(cfg.DataDir, "quotes.db"))
		if err != nil {
			logger.Error("Failed to open oracle quote cache", slog.Any("error", err))
			os.Exit(1)
		}
		httpClient := &http.Client{Timeout: cfg.Oracle.RequestTimeout()}
		for _, market := range cfg.Collateral {
			feed := oracle.NewHTTPFeed(httpClient, cfg.Oracle.Endpoint, market.CoinGeckoID, market.Decimals)
			adapter.Bind(market.Feed, oracle.NewCachingFeed(feed, quoteCache, market.Feed, cfg.Oracle.CacheMaxAge()))
		}
	}

	startSeq, err := ledger.EventSequence()
	if err != nil {
		logger.Error("Failed to read persisted event sequence", slog.Any("error", err))
		os.Exit(1)
	}
	bus := events.NewBus(startSeq)
	if cfg.Events.HistoryLimit > 0 {
		bus.SetHistoryLimit(cfg.Events.HistoryLimit)
	}

	engine := vault.NewEngine(module)
	engine.SetState(ledger)
	engine.SetRegistry(registry)
	engine.SetAdapter(adapter)
	engine.SetSynthetic(bank.Asset("ZUSD", module))
	for _, market := range cfg.Collateral {
		engine.BindCollateralToken(market.Symbol, bank.Asset(market.Symbol, module))
	}
	engine.SetPauses(cfg.Pauses.View())
	engine.SetEmitter(bus)
	params, err := cfg.Engine.Params()
	if err != nil {
		logger.Error("Invalid engine risk parameters", slog.Any("error", err))
		os.Exit(1)
	}
	if err := engine.SetRiskParams(params); err != nil {
		logger.Error("Failed to apply risk parameters", slog.Any("error", err))
		os.Exit(1)
	}
	minHealth, err := cfg.Engine.MinHealth()
	if err != nil {
		logger.Error("Invalid minimum health factor", slog.Any("error", err))
		os.Exit(1)
	}
	if minHealth != nil {
		if err := engine.SetMinimumHealthFactor(minHealth); err != nil {
			logger.Error("Failed to apply minimum health factor", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.Open(cfg.Audit.ResolvePath(cfg.DataDir))
		if err != nil {
			logger.Error("Failed to open audit store", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := auditStore.Follow(ctx, bus, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Audit follower stopped", slog.Any("error", err))
			}
		}()
	}

	rpcServer := rpc.NewServer(engine, bank, rpc.ServerConfig{
		AllowInsecure:     cfg.RPCAllowInsecure,
		TLSCertFile:       cfg.RPCTLSCertFile,
		TLSKeyFile:        cfg.RPCTLSKeyFile,
		TrustedProxies:    cfg.RPCTrustedProxies,
		TrustProxyHeaders: cfg.RPCTrustProxyHeaders,
		RequestsPerMinute: cfg.RPCRequestsPerMinute,
		ReadHeaderTimeout: time.Duration(cfg.RPCReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.RPCReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPCWriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPCIdleTimeout) * time.Second,
	})
	rpcServer.SetLogger(logger)
	rpcServer.SetEventBus(bus)
	if auditStore != nil {
		rpcServer.SetAuditStore(auditStore)
	}
	for id, feed := range manualFeeds {
		rpcServer.BindManualFeed(id, feed)
	}
	if token := strings.TrimSpace(os.Getenv("ZUSD_RPC_TOKEN")); token == "" {
		logger.Warn("ZUSD_RPC_TOKEN is not set; mutating RPC methods will be refused")
	} else {
		logger.Info("RPC bearer token loaded", logging.MaskField("rpc_token", token))
	}

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.ListenAddress)
		close(rpcErrCh)
	}()
	if err := waitForRPCStartup(cfg.ListenAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("zusd daemon initialised and running",
		slog.String("listen", cfg.ListenAddress),
		slog.String("network", cfg.NetworkName),
		slog.Int("markets", len(cfg.Collateral)),
		slog.Bool("manualOracle", cfg.Oracle.Manual),
		slog.Bool("audit", auditStore != nil))

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-rpcErrCh:
		if ok && err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server terminated", slog.Any("error", err))
			exitCode = 1
		}
	}
	stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC shutdown failed", slog.Any("error", err))
		exitCode = 1
	}

	// The bus sequence must survive restarts or replayed events would reuse
	// cursor numbers the audit store has already recorded.
	if err := ledger.SetEventSequence(bus.Sequence()); err != nil {
		logger.Error("Failed to stage event sequence", slog.Any("error", err))
		exitCode = 1
	} else if err := ledger.Commit(); err != nil {
		logger.Error("Failed to persist event sequence", slog.Any("error", err))
		exitCode = 1
	}

	if auditStore != nil {
		if err := auditStore.Close(); err != nil {
			logger.Error("Audit store close failed", slog.Any("error", err))
		}
	}
	if quoteCache != nil {
		if err := quoteCache.Close(); err != nil {
			logger.Error("Quote cache close failed", slog.Any("error", err))
		}
	}
	db.Close()
	if shutdownTelemetry != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownTelemetry(flushCtx)
		cancelFlush()
	}
	logger.Info("zusd daemon stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// initTelemetry wires the OTLP exporters when a collector endpoint is present
// in the environment. Without one the daemon stays on the no-op providers.
func initTelemetry(logger *slog.Logger, environment string) func(context.Context) error {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil
	}
	insecure := false
	if raw := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			logger.Warn("Invalid OTEL_EXPORTER_OTLP_INSECURE value", slog.String("value", raw))
		} else {
			insecure = parsed
		}
	}
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: environment,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Warn("Telemetry init failed", slog.Any("error", err))
		return nil
	}
	return shutdown
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
