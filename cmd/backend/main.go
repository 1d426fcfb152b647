// cmd/backend/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "chess-dispatch/internal/api/http"
	"chess-dispatch/internal/config"
	"chess-dispatch/internal/dispatch"
	"chess-dispatch/internal/infra"
	"chess-dispatch/internal/infra/etcd"
	"chess-dispatch/internal/scheduler"
	"chess-dispatch/internal/tracing"
	"chess-dispatch/internal/usecase"
	"chess-dispatch/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMiddleware wraps an http.Handler with CORS headers for the browser front end.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding")

		// Handle pre-flight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("chess-dispatch-backend", cfg.TracingEnabled)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	nodeID := uuid.New().String()
	log.Printf("Starting chess backend %s with %s store...", nodeID, cfg.StoreBackend)

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Open and check the store
	backend, err := infra.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Store.Close()

	if err := infra.WaitReady(rootCtx, backend.Store, cfg.StartupTimeout, logger); err != nil {
		log.Fatalf("Store is not reachable: %v", err)
	}
	log.Println("Connected to store.")

	// 6. Instantiate components
	dispatcher := dispatch.NewDispatcher(backend.Store, dispatch.Options{
		QueueKey:        cfg.QueueKey,
		ResultKeyPrefix: cfg.ResultKeyPrefix,
		PollInterval:    cfg.PollInterval,
		Timeout:         cfg.ResultTimeout,
	}, logger)
	gameService := usecase.NewGameService(dispatcher, logger)

	handlerOpts := []http_api.Option{http_api.WithRateLimit(cfg.SubmitRateLimit, cfg.SubmitBurst)}
	var elector *etcd.Elector
	if backend.Etcd != nil {
		discovery := dispatch.NewWorkerDiscovery(backend.Etcd, worker.RegistryPrefix, logger)
		go discovery.WatchWorkers(rootCtx)
		// Several backends may share the cluster; only the leader samples.
		elector = etcd.NewElector(backend.Etcd, nodeID, cfg.LeaderElectionTTL, logger)
		handlerOpts = append(handlerOpts,
			http_api.WithWorkers(discovery.Workers),
			http_api.WithLeader(elector.IsLeader))
	}
	gameHandler := http_api.NewGameHandler(gameService, backend.Store, logger, handlerOpts...)

	// The memory store only works within one process, so run a worker here.
	if cfg.StoreBackend == config.BackendMemory {
		engine, err := infra.OpenEngine(rootCtx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to start engine: %v", err)
		}
		defer engine.Close()
		loop := worker.NewLoop(backend.Store, engine, worker.Options{
			QueueKey:        cfg.QueueKey,
			ResultKeyPrefix: cfg.ResultKeyPrefix,
			ResultTTL:       cfg.ResultTTL,
			IdleInterval:    cfg.IdleInterval,
			PacingInterval:  cfg.PacingInterval,
			BlockingPop:     cfg.BlockingPop,
		}, logger)
		go loop.Run(rootCtx)
	}

	// 7. Register routes and metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	gameHandler.RegisterRoutes(mux)

	// 8. Start the maintenance scheduler
	cronScheduler := scheduler.NewCronScheduler(logger)
	if cfg.QueueSampleSchedule != "" {
		if err := cronScheduler.AddTask(scheduler.QueueDepthTask, cfg.QueueSampleSchedule,
			scheduler.QueueDepthSampler(backend.Store, cfg.QueueKey)); err != nil {
			log.Fatalf("Failed to schedule queue sampler: %v", err)
		}
	}
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if elector != nil {
			_ = cronScheduler.StartAsLeader(rootCtx, elector)
			return
		}
		_ = cronScheduler.Start(rootCtx)
	}()

	// 9. Start HTTP API server with CORS middleware
	log.Printf("Starting HTTP API server on %s", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 10. Block until shutdown
	<-rootCtx.Done()
	log.Println("Shutting down application gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown failed: %v", err)
	}
	<-schedulerDone

	log.Println("Application shut down.")
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
