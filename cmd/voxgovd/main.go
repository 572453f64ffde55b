// Voxgovd is the voxgov turn governance daemon.
//
// It loads tenant governance files and knowledge packs, connects the
// session store and event bus, and serves the turn API over HTTP.
//
// Configuration is read from an optional YAML file and VOXGOV_* environment
// variables. See internal/config for the keys.
//
// Usage:
//
//	# Start with defaults
//	voxgovd
//
//	# Start with a config file and an in-memory session store
//	VOXGOV_STORE_BACKEND=memory voxgovd -config /etc/voxgov/voxgov.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/alerts"
	"github.com/fyrsmithlabs/voxgov/internal/archive"
	"github.com/fyrsmithlabs/voxgov/internal/cascade"
	"github.com/fyrsmithlabs/voxgov/internal/config"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	httpserver "github.com/fyrsmithlabs/voxgov/internal/http"
	"github.com/fyrsmithlabs/voxgov/internal/interpreter"
	"github.com/fyrsmithlabs/voxgov/internal/knowledge"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/orchestrator"
	"github.com/fyrsmithlabs/voxgov/internal/redact"
	"github.com/fyrsmithlabs/voxgov/internal/session"
	"github.com/fyrsmithlabs/voxgov/internal/store"
	"github.com/fyrsmithlabs/voxgov/internal/telemetry"
	"github.com/fyrsmithlabs/voxgov/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("VOXGOV_CONFIG"), "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  voxgovd [-config file]   Start the voxgov daemon\n")
			fmt.Fprintf(os.Stderr, "  voxgovd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("voxgovd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if degraded, terr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(terr))
	}

	logger.Info(ctx, "starting voxgovd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	provider := governance.NewCachedProvider(
		governance.NewFileProvider(cfg.Governance.Dir),
		cfg.Governance.CacheTTL.Duration(),
		cfg.Cascade.CacheShards,
	)

	style := cascade.NewStyleProcessor(rand.New(rand.NewSource(time.Now().UnixNano())))
	registry := cascade.NewRegistry()
	casc := cascade.New(provider, registry,
		cascade.WithLogger(logger),
		cascade.WithTracer(tel.Tracer("voxgov/cascade")),
		cascade.WithPostProcessors(style),
		cascade.WithPicker(style),
		cascade.WithCacheConfig(cascade.CacheConfigFrom(cfg.Cascade)),
	)

	library, err := initLibrary(ctx, cfg.Knowledge, registry, style, logger)
	if err != nil {
		_ = deps.Close(ctx)
		_ = tel.Shutdown(context.Background())
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithCascade(casc),
		orchestrator.WithEmitter(deps.emitter),
		orchestrator.WithBookingFlow(orchestrator.NewBookingFlow(style)),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tel.Tracer("voxgov/orchestrator")),
		orchestrator.WithSafeResponse(cfg.Cascade.SafeResponse),
	}
	if deps.archive != nil {
		opts = append(opts, orchestrator.WithArchiver(deps.archive))
	}
	if interp := initInterpreter(ctx, cfg.Interpreter, logger); interp != nil {
		opts = append(opts, orchestrator.WithInterpreter(interp))
	}
	orch := orchestrator.New(provider, session.NewManager(deps.store, logger), opts...)

	var watcher *watch.Watcher
	if cfg.Governance.Watch || cfg.Knowledge.Watch {
		wc := watch.Config{
			Configs: provider,
			Caches:  casc,
			Logger:  logger,
		}
		if cfg.Governance.Watch {
			wc.GovernanceDir = cfg.Governance.Dir
		}
		if cfg.Knowledge.Watch {
			wc.KnowledgeDir = cfg.Knowledge.Dir
			wc.Knowledge = library
		}
		watcher, err = watch.New(wc)
		if err == nil {
			err = watcher.Start(ctx)
		}
		if err != nil {
			logger.Warn(ctx, "file watching disabled", zap.Error(err))
			watcher = nil
		}
	}

	serverOpts := []httpserver.Option{
		httpserver.WithMetrics(httpserver.NewHTTPMetrics(tel.Meter("voxgov/http"), logger.Underlying())),
		httpserver.WithSourceReloader(httpserver.SourceReloaderFunc(func(ctx context.Context, tenantID, sourceID string) error {
			err := library.LoadSource(ctx, tenantID, sourceID)
			casc.InvalidateSource(tenantID, sourceID)
			return err
		})),
		httpserver.WithHealthCheck("telemetry", func(context.Context) error {
			if degraded, err := tel.Degraded(); degraded {
				return fmt.Errorf("degraded: %v", err)
			}
			return nil
		}),
	}
	if deps.natsConn != nil {
		nc := deps.natsConn
		serverOpts = append(serverOpts, httpserver.WithHealthCheck("nats", func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats %s", status)
			}
			return nil
		}))
	}
	srv, err := httpserver.NewServer(orch, logger.Underlying().Named("http"), &httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		TurnTimeout: cfg.Server.TurnTimeout.Duration(),
	}, serverOpts...)
	if err != nil {
		_ = deps.Close(ctx)
		_ = tel.Shutdown(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher close: %w", err))
		}
	}
	errs = append(errs, deps.Close(shutdownCtx))
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(append([]error{serveErr}, errs...)...)
}

// initLogger maps the observability section onto the logging config.
func initLogger(o config.ObservabilityConfig) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	if o.LogLevel != "" {
		lvl, err := logging.LevelFromString(o.LogLevel)
		if err != nil {
			return nil, err
		}
		lc.Level = lvl
	}
	if o.LogFormat != "" {
		lc.Format = o.LogFormat
	}
	if o.ServiceName != "" {
		lc.Fields["service"] = o.ServiceName
	}
	return logging.NewLogger(lc, nil)
}

// dependencies holds infrastructure shared by the call path.
type dependencies struct {
	natsConn *nats.Conn
	store    store.SessionStore
	emitter  alerts.Emitter
	archive  *archive.SQLiteArchive
}

// Close releases infrastructure resources. Pending publishes are flushed
// before the NATS connection drains.
func (d *dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.archive != nil {
		if err := d.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive close: %w", err))
		}
	}
	if d.natsConn != nil {
		if err := d.natsConn.FlushWithContext(ctx); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("nats flush: %w", err))
		}
		d.natsConn.Close()
	}
	return errors.Join(errs...)
}

// initDependencies connects the session store, event emitter and archive.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{emitter: alerts.Nop{}}

	if cfg.Store.Backend == "nats" {
		opts := []nats.Option{
			nats.Name("voxgovd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait.Duration()),
		}
		if cfg.NATS.Token.IsSet() {
			opts = append(opts, nats.Token(cfg.NATS.Token.Value()))
		}
		nc, err := nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		st, err := store.NewNATSStore(ctx, nc, cfg.Store.Bucket, cfg.Store.TTL.Duration())
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		deps.natsConn = nc
		deps.store = st
		deps.emitter = alerts.NewNATSEmitter(nc, cfg.NATS.EventSubject)
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL), zap.String("bucket", cfg.Store.Bucket))
	} else {
		deps.store = store.NewMemoryStore(cfg.Store.TTL.Duration())
		logger.Warn(ctx, "using in-memory session store; sessions do not survive restarts")
	}

	if cfg.Archive.Enabled {
		redactor, err := redact.New(cfg.Redaction)
		if err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to build redactor: %w", err)
		}
		a, err := archive.Open(cfg.Archive.Path, redactor)
		if err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		deps.archive = a
		logger.Info(ctx, "call archive ready",
			zap.String("path", cfg.Archive.Path),
			zap.Bool("redaction", redactor.Enabled()))
	}
	return deps, nil
}

// initLibrary builds the knowledge library and loads every pack. Bad packs
// are logged and skipped.
func initLibrary(ctx context.Context, cfg config.KnowledgeConfig, registry *cascade.Registry, picker knowledge.Picker, logger *logging.Logger) (*knowledge.Library, error) {
	opts := []knowledge.LibraryOption{
		knowledge.WithPicker(picker),
		knowledge.WithLogger(logger),
	}

	embedder, err := knowledge.NewEmbedder(cfg)
	if err != nil {
		logger.Warn(ctx, "faq and qdrant packs disabled", zap.Error(err))
	} else {
		db := chromem.NewDB()
		if cfg.ChromemPath != "" {
			db, err = chromem.NewPersistentDB(cfg.ChromemPath, false)
			if err != nil {
				return nil, fmt.Errorf("failed to open chromem db: %w", err)
			}
		}
		opts = append(opts, knowledge.WithChromem(db, knowledge.EmbeddingFunc(embedder)))

		if cfg.QdrantEnabled {
			client, err := knowledge.NewQdrantClient(cfg)
			if err != nil {
				return nil, err
			}
			opts = append(opts, knowledge.WithQdrant(client, embedder))
		}
	}

	lib := knowledge.NewLibrary(cfg.Dir, registry, opts...)
	if err := lib.LoadAll(ctx); err != nil {
		logger.Warn(ctx, "some knowledge packs failed to load", zap.Error(err))
	}
	logger.Info(ctx, "knowledge library loaded", zap.Int("sources", registry.Len()))
	return lib, nil
}

// initInterpreter returns nil when the interpreter is disabled or its model
// cannot be built; turns then fall through to the safe response.
func initInterpreter(ctx context.Context, cfg config.InterpreterConfig, logger *logging.Logger) interpreter.Interpreter {
	if !cfg.Enabled {
		return nil
	}
	model, err := interpreter.NewModel(cfg)
	if err != nil {
		logger.Warn(ctx, "fallback interpreter disabled", zap.Error(err))
		return nil
	}
	logger.Info(ctx, "fallback interpreter ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))
	return interpreter.NewLLMInterpreter(model, interpreter.OptionsFrom(cfg), logger)
}
