// Package main is the entry point for the billing service binary. It
// dispatches subcommands via a simple switch on os.Args so the binary's full
// CLI surface is readable in one place without requiring a cobra dependency:
//
//	serve                      run the HTTP server, queue listener, and scheduled jobs
//	migrate <up|down> [tenant] apply the tenant schema to one or all tenant databases
//	cloud process              delete expired cloud subscriptions (one pass)
//	aws update-tiers           recalculate tenant tiers (one pass)
//	aws send-metered-report    submit marketplace usage records (one pass)
//	version                    print the build version
//
// The one-pass subcommands run the same operations as the scheduled jobs, so
// deployments that prefer external cron over long-running jobs lose nothing.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/vantage-compute/vantage-billing/internal/api"
	"github.com/vantage-compute/vantage-billing/internal/awsclient"
	"github.com/vantage-compute/vantage-billing/internal/billing"
	"github.com/vantage-compute/vantage-billing/internal/config"
	"github.com/vantage-compute/vantage-billing/internal/db"
	"github.com/vantage-compute/vantage-billing/internal/identity"
	"github.com/vantage-compute/vantage-billing/internal/jobs"
	"github.com/vantage-compute/vantage-billing/internal/listener"
	"github.com/vantage-compute/vantage-billing/internal/marketplace"
	"github.com/vantage-compute/vantage-billing/internal/metering"
	"github.com/vantage-compute/vantage-billing/internal/safego"
	"github.com/vantage-compute/vantage-billing/internal/telemetry"
	"github.com/vantage-compute/vantage-billing/internal/tenant"
	"github.com/vantage-compute/vantage-billing/internal/tiering"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Vantage Billing v%s\n", version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down> [tenant]", os.Args[0])
		}
		tenantName := ""
		if len(os.Args) > 3 {
			tenantName = os.Args[3]
		}
		return runMigrations(cfg, os.Args[2], tenantName)
	case "cloud":
		if len(os.Args) < 3 || os.Args[2] != "process" {
			return fmt.Errorf("usage: %s cloud process", os.Args[0])
		}
		return runBatch(cfg, func(ctx context.Context, svc *billing.Service) error {
			return svc.CleanupExpired(ctx)
		})
	case "aws":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s aws <update-tiers|send-metered-report>", os.Args[0])
		}
		switch os.Args[2] {
		case "update-tiers":
			return runBatch(cfg, func(ctx context.Context, svc *billing.Service) error {
				return svc.UpdateTiers(ctx)
			})
		case "send-metered-report":
			return runBatch(cfg, func(ctx context.Context, svc *billing.Service) error {
				return svc.SendMeteredReport(ctx)
			})
		default:
			return fmt.Errorf("unknown aws subcommand: %s", os.Args[2])
		}
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, cloud, aws, version", command)
	}
}

// services bundles everything a command needs, plus the handles to close.
type services struct {
	catalog *sqlx.DB
	tenants *tenant.Manager
	billing *billing.Service
}

func (s *services) Close() {
	if err := s.tenants.Close(); err != nil {
		slog.Warn("failed to close tenant connections", "error", err)
	}
	s.catalog.Close()
}

// buildServices connects to the catalog database and wires the billing
// service. ctx must outlive the returned services; it governs identity token
// refresh.
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	catalog, err := db.Connect(cfg.Database.CatalogDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	tenants := tenant.NewManager(&cfg.Database, catalog)
	users := identity.NewClient(ctx, &cfg.Identity)
	calc := tiering.NewCalculator(users)

	meteringClients := func(ctx context.Context) (metering.MeteringClient, error) {
		awsCfg, err := awsclient.Load(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		return metering.NewClient(awsCfg), nil
	}
	reporter := metering.NewReporter(tenants, calc, meteringClients, cfg.AWS.Marketplace.ProductCode)

	return &services{
		catalog: catalog,
		tenants: tenants,
		billing: billing.NewService(tenants, calc, reporter),
	}, nil
}

// runBatch runs one batch operation to completion and exits.
func runBatch(cfg *config.Config, op func(context.Context, *billing.Service) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	return op(ctx, svcs.billing)
}

// runMigrations applies the tenant schema to one tenant database, or to every
// tenant database discovered in the catalog when no tenant is named.
func runMigrations(cfg *config.Config, direction, tenantName string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	names := []string{tenantName}
	if tenantName == "" {
		names, err = svcs.tenants.List(ctx)
		if err != nil {
			return err
		}
	}

	for _, name := range names {
		h, err := svcs.tenants.Handle(ctx, name)
		if err != nil {
			return err
		}
		if err := db.RunMigrations(h.DB, direction); err != nil {
			return fmt.Errorf("failed to migrate tenant %s: %w", name, err)
		}

		schemaVersion, dirty, err := db.GetMigrationVersion(h.DB)
		if err != nil {
			slog.Warn("failed to read migration version", "tenant", name, "error", err)
			continue
		}
		slog.Info("migrated tenant database", "tenant", name, "version", schemaVersion, "dirty", dirty)
	}
	return nil
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcs, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	slog.Info("connected to catalog database", "host", cfg.Database.Host, "catalog", cfg.Database.CatalogName)

	// Begin exporting catalog pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(svcs.catalog.DB)

	// Prometheus metrics live on a dedicated port so the scrape path is not
	// reachable through the public API ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	// Marketplace queue listener. A fresh SQS client per poll keeps assumed
	// credentials current.
	var poller *listener.Poller
	if cfg.AWS.SQS.QueueURL != "" {
		dispatcher := marketplace.NewDispatcher(svcs.tenants)
		sqsClients := func(ctx context.Context) (listener.SQSClient, error) {
			awsCfg, err := awsclient.Load(ctx, &cfg.AWS)
			if err != nil {
				return nil, err
			}
			return sqs.NewFromConfig(awsCfg), nil
		}
		poller = listener.NewPoller(&cfg.AWS.SQS, sqsClients, dispatcher.HandleMessage)
		safego.Go("sqs-listener", func() { poller.Start(ctx) })
	} else {
		slog.Warn("marketplace queue listener disabled", "reason", "aws.sqs.queue_url not set")
	}

	// Scheduled jobs.
	var background []interface{ Stop() }
	if cfg.Jobs.Enabled {
		tierJob := jobs.NewTierUpdateJob(svcs.billing, cfg.Jobs.TierUpdateIntervalHours)
		meterJob := jobs.NewMeteringReportJob(svcs.billing, cfg.Jobs.MeteringIntervalHours)
		cleanupJob := jobs.NewCloudCleanupJob(svcs.billing, cfg.Jobs.CloudCleanupIntervalHours)

		safego.Go("tier-update-job", func() { tierJob.Start(ctx) })
		safego.Go("metering-report-job", func() { meterJob.Start(ctx) })
		safego.Go("cloud-cleanup-job", func() { cleanupJob.Start(ctx) })
		background = append(background, tierJob, meterJob, cleanupJob)
	}
	if poller != nil {
		background = append(background, poller)
	}

	resolvers := func(ctx context.Context) (metering.Resolver, error) {
		awsCfg, err := awsclient.Load(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		return metering.NewClient(awsCfg), nil
	}
	subscriptions := api.NewSubscriptionHandler(svcs.tenants, resolvers, &cfg.AWS.Marketplace)
	router := api.NewRouter(cfg, svcs.catalog, subscriptions)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "base_url", cfg.Server.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background goroutines after in-flight requests have drained.
	cancel()
	for _, job := range background {
		job.Stop()
	}

	slog.Info("server stopped gracefully")
	return nil
}
