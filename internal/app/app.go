// Package app wires configuration, storage, the broker, workers and the
// API servers into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"k8s.io/utils/clock"

	grpcapi "github.com/fanoutlab/fanoutlab/internal/api/grpc"
	httpapi "github.com/fanoutlab/fanoutlab/internal/api/http"
	"github.com/fanoutlab/fanoutlab/internal/broker"
	"github.com/fanoutlab/fanoutlab/internal/catalog"
	"github.com/fanoutlab/fanoutlab/internal/config"
	"github.com/fanoutlab/fanoutlab/internal/domain"
	"github.com/fanoutlab/fanoutlab/internal/observability"
	"github.com/fanoutlab/fanoutlab/internal/playback"
	"github.com/fanoutlab/fanoutlab/internal/replay"
	"github.com/fanoutlab/fanoutlab/internal/server"
	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
	"github.com/fanoutlab/fanoutlab/internal/workers"
)

// statsWindow is how long step counters are kept.
const statsWindow = time.Hour

// App manages the lifecycle of every fanoutlab component.
type App struct {
	cfg   *config.Config
	clock clock.WithTicker

	// Shared resources
	storage  storage.ObjectStorage
	broker   *broker.Broker
	catalog  *catalog.SQLiteCatalog
	stats    *observability.StepStats
	traces   *trace.Assembler
	engine   *replay.Engine
	shop     *domain.Service
	sessions *playback.Registry
	shutdown *server.ShutdownManager

	pool         *workers.Pool
	handler      http.Handler
	httpServer   *http.Server
	grpcServer   *grpc.Server
	grpcListener net.Listener
	httpAddr     string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg, clock: clock.RealClock{}}, nil
}

// Start initializes shared resources, starts the workers and the servers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if a.cfg.Workers.Enabled {
		if err := a.startWorkers(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}

	log.Printf("fanoutlab started: http=%s grpc=%v storage=%s", a.httpAddr, a.cfg.GRPC.Enabled, a.cfg.Storage.Type)
	return nil
}

// initSharedResources initializes storage, the broker, the correlation
// catalog and the services built on them.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.broker = broker.New(a.clock)
	if err := a.broker.Provision(broker.Topology{
		Topic:             a.cfg.Broker.Topic,
		MaxReceiveCount:   a.cfg.Broker.MaxReceiveCount,
		VisibilityTimeout: a.cfg.Broker.VisibilityTimeout,
	}); err != nil {
		return fmt.Errorf("failed to provision broker: %w", err)
	}

	stepStore := trace.NewObjectStepStore(a.storage)
	var ids trace.CorrelationSource = stepStore
	var index domain.Indexer
	if a.cfg.Catalog.Enabled {
		a.catalog, err = catalog.Open(a.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		log.Printf("Correlation catalog initialized: %s", a.cfg.Catalog.Path)
		a.reconcileCatalog(ctx, stepStore)
		ids = a.catalog
		index = a.catalog
	}

	a.stats = observability.NewStepStatsWithClock(statsWindow, a.clock)
	a.traces = trace.NewAssembler(stepStore,
		trace.WithStats(a.stats),
		trace.WithCorrelationSource(ids),
	)
	a.engine = replay.NewEngine(replay.WithClock(a.clock))

	publisher := domain.NewPublisher(a.broker, a.cfg.Broker.Topic, a.storage, a.clock, index)
	a.shop = domain.NewService(a.storage, publisher, a.clock)
	a.sessions = playback.NewRegistry(playback.NewClockScheduler(a.clock), a.engine, a.clock, a.cfg.Replay.MaxSessions)

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	if a.catalog != nil {
		a.shutdown.Register("catalog", a.catalog)
	}
	a.shutdown.RegisterFunc("replay sessions", func() error {
		a.sessions.CloseAll()
		return nil
	})
	return nil
}

// reconcileCatalog backfills ids that reached storage without being indexed.
// Failures are logged; the catalog stays usable.
func (a *App) reconcileCatalog(ctx context.Context, src catalog.IDSource) {
	report, err := catalog.Reconcile(ctx, a.catalog, src, a.clock.Now(), false)
	if err != nil {
		log.Printf("Warning: catalog reconciliation failed: %v", err)
		return
	}
	if report.HasIssues() {
		log.Printf("Catalog reconciled: %d added, %d dangling (indexed=%d, stored=%d)",
			len(report.Added), len(report.Dangling), report.TotalIndexed, report.TotalStored)
	}
}

func (a *App) startWorkers(ctx context.Context) error {
	a.pool = workers.NewPool(workers.Config{
		PollInterval: a.cfg.Workers.PollInterval,
		BatchSize:    a.cfg.Workers.BatchSize,
	}, a.broker, workers.Deps{Store: a.storage, Clock: a.clock})
	if err := a.pool.Start(ctx); err != nil {
		return err
	}
	a.shutdown.RegisterFunc("workers", func() error {
		a.pool.Stop()
		return nil
	})
	return nil
}

func (a *App) startHTTP() error {
	a.handler = httpapi.NewRouter(httpapi.Deps{
		Traces:              a.traces,
		Broker:              a.broker,
		Store:               a.storage,
		Shop:                a.shop,
		Sessions:            a.sessions,
		Engine:              a.engine,
		Stats:               a.stats,
		AutoPlayInterval:    a.cfg.Replay.DefaultSpeed,
		MinAutoPlayInterval: a.cfg.Replay.MinSpeed,
		Middleware:          []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
	})

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.httpAddr = lis.Addr().String()
	errCh := a.shutdown.Serve(a.httpServer, lis)
	log.Printf("HTTP server listening on %s", a.httpAddr)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for err := range errCh {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// HTTPAddr returns the address the HTTP server is bound to.
func (a *App) HTTPAddr() string {
	return a.httpAddr
}

func (a *App) startGRPC() error {
	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcServer = grpcapi.NewServer(grpcapi.NewTraceServer(a.traces, a.engine))

	a.shutdown.Register("grpc server", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("gRPC server listening on %s", a.cfg.GRPC.Addr)
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Handler returns the HTTP API handler once the app has started.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Stop shuts every component down and waits for the servers to exit.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return err
}

// cleanup releases what a failed Start managed to acquire.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.shutdown != nil {
		a.shutdown.Shutdown(context.Background(), "startup failed")
	} else if a.catalog != nil {
		a.catalog.Close()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
