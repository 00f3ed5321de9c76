package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/esbmeter/internal/api"
	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/cache"
	"github.com/tejusbharadwaj/esbmeter/internal/config"
	"github.com/tejusbharadwaj/esbmeter/internal/database"
	server "github.com/tejusbharadwaj/esbmeter/internal/grpc"
	"github.com/tejusbharadwaj/esbmeter/internal/metrics"
	"github.com/tejusbharadwaj/esbmeter/internal/scheduler"
)

// Command esbmeter signs in to the ESB Networks customer portal, downloads
// the interval readings of each configured meter and serves the usage totals
// over gRPC.
//
// The service supports:
//   - Several accounts, each refreshed at most once per cache TTL
//   - Six usage windows (today, last 24 hours, this week, last 7 days,
//     this month, last 30 days)
//   - Optional Postgres persistence of the readings
//   - Prometheus metrics
//
// Usage:
//
//	esbmeter [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger, err := appConfig.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	loc, err := appConfig.Location()
	if err != nil {
		logger.Fatalf("Failed to load timezone: %v", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}

	// Create a context that will be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	authenticator := auth.NewAuthenticator(appConfig.AuthOptions(), logger)
	fetcher := api.NewDataFetcher(appConfig.Portal.URL, loc, logger)
	client := api.NewClient(authenticator, fetcher)

	registry, err := cache.NewRegistry(
		appConfig.Cache.MaxAccounts,
		client,
		appConfig.Accounts,
		cache.WithTTL(appConfig.Cache.TTL),
		cache.WithRefreshTimeout(appConfig.Cache.RefreshTimeout),
		cache.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("Failed to create cache registry: %v", err)
	}

	health := server.NewHealthChecker()
	schedOpts := []scheduler.Option{
		scheduler.WithSpec(appConfig.Schedule.Cron),
		scheduler.WithLocation(loc),
		scheduler.WithHealth(health),
		scheduler.WithTimeout(appConfig.Cache.RefreshTimeout),
	}

	var repo database.ReadingsRepository
	if appConfig.Database.Enabled() {
		pg, err := database.NewPostgresRepo(appConfig.Database.ConnString())
		if err != nil {
			logger.Fatalf("Failed to create repository: %v", err)
		}
		pg.SetMaxOpenConns(appConfig.Database.MaxConnections)
		repo = pg
		schedOpts = append(schedOpts, scheduler.WithRepository(repo))
	}

	sched := scheduler.NewScheduler(ctx, registry, logger, schedOpts...)

	// Create and setup gRPC server
	serverConfig := server.ServerConfig{
		CacheSize:      appConfig.Server.CacheSize,
		CacheTTL:       appConfig.Server.CacheTTL,
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
	}
	srv, err := server.SetupServer(sched, health, serverConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to setup server: %v", err)
	}

	// Start listening
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port))
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.MetricsPort),
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start background services
	errChan := make(chan error, 1)

	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		logger.WithField("addr", metricsServer.Addr).Info("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	go func() {
		logger.WithFields(logrus.Fields{
			"port":     appConfig.Server.Port,
			"accounts": len(appConfig.Accounts),
		}).Info("Starting gRPC server")
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		logger.WithError(err).Error("Service error, initiating shutdown")
	}

	cancel()
	shutdown(srv, metricsServer, sched, repo, logger)
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// shutdown stops accepting requests, waits for a running refresh and then
// releases the database.
func shutdown(
	srv *grpc.Server,
	metricsServer *http.Server,
	sched *scheduler.Scheduler,
	repo database.ReadingsRepository,
	logger *logrus.Logger,
) {
	logger.Info("Gracefully stopping server...")
	srv.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Metrics server did not stop cleanly")
	}

	sched.Stop()

	if repo != nil {
		if err := repo.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close repository")
		}
	}
	logger.Info("Server stopped")
}
