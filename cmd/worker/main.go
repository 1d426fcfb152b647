// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chess-dispatch/internal/config"
	"chess-dispatch/internal/infra"
	"chess-dispatch/internal/tracing"
	"chess-dispatch/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Init config, logger and tracer
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("chess-dispatch-worker", cfg.TracingEnabled)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	workerID := uuid.New().String()
	logger = logger.With("worker_id", workerID)
	log.Printf("Starting worker node %s with %s engine", workerID, cfg.EngineKind)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 4. Open and check the store
	if cfg.StoreBackend == config.BackendMemory {
		log.Fatal("The memory store cannot be shared with a backend process; run the backend alone instead.")
	}
	backend, err := infra.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Store.Close()

	if err := infra.WaitReady(rootCtx, backend.Store, cfg.StartupTimeout, logger); err != nil {
		log.Fatalf("Store is not reachable: %v", err)
	}
	log.Println("Connected to store.")

	// 5. Start the engine
	engine, err := infra.OpenEngine(rootCtx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer engine.Close()

	// 6. Register this worker in etcd
	if backend.Etcd != nil {
		registry := worker.NewRegistry(backend.Etcd, logger)
		regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
		err := registry.Register(regCtx, workerID, cfg.HealthListenAddr, int64(cfg.WorkerRegistryTTL.Seconds()))
		regCancel()
		if err != nil {
			log.Fatalf("Failed to register worker: %v", err)
		}
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister worker", "error", err)
			}
		}()
	}

	// 7. Instantiate the loop and the side servers
	loop := worker.NewLoop(backend.Store, engine, worker.Options{
		QueueKey:        cfg.QueueKey,
		ResultKeyPrefix: cfg.ResultKeyPrefix,
		ResultTTL:       cfg.ResultTTL,
		IdleInterval:    cfg.IdleInterval,
		PacingInterval:  cfg.PacingInterval,
		BlockingPop:     cfg.BlockingPop,
	}, logger)
	health := worker.NewHealth(logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.HealthListenAddr)
	if err != nil {
		log.Fatalf("Failed to listen for gRPC: %v", err)
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Printf("gRPC health server listening on %s", cfg.HealthListenAddr)
		return health.Server().Serve(lis)
	})
	g.Go(func() error {
		log.Printf("Metrics server listening on %s", cfg.MetricsListenAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		health.SetServing(true)
		defer health.SetServing(false)
		return loop.Run(ctx)
	})
	g.Go(func() error {
		// 8. Block until shutdown signal or a component failure
		<-ctx.Done()
		log.Println("Shutting down worker node gracefully...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		health.Shutdown()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}
	log.Println("Worker node shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
