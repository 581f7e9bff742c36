package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainpulse/chainpulse/internal/backfill"
	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/confidence"
	"github.com/chainpulse/chainpulse/internal/ingest"
	"github.com/chainpulse/chainpulse/internal/insight"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/poller"
	sigproc "github.com/chainpulse/chainpulse/internal/signal"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	backfillStart := flag.String("backfill-start", "", "backfill range start date (YYYY-MM-DD); runs backfill and exits")
	backfillEnd := flag.String("backfill-end", "", "backfill range end date (YYYY-MM-DD)")
	backfillTypes := flag.String("backfill-types", "", "comma-separated signal types to backfill (default all)")
	flag.Parse()

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting chainpulse service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"provider_mode":     cfg.ProviderMode,
		"poll_interval_sec": cfg.PollIntervalSec,
		"exchanges":         len(cfg.ExchangeEntityIDs),
		"miners":            len(cfg.MinerEntityIDs),
		"whales":            len(cfg.WhaleAddresses),
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Run auto-migration
	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	log.Info("Database migrations complete")

	// Initialize chain data client
	chainClient := chain.NewClient(cfg)

	// Backfill mode: run the requested range and exit
	if *backfillStart != "" || *backfillEnd != "" {
		runBackfill(cfg, db, chainClient, log, *backfillStart, *backfillEnd, *backfillTypes)
		return
	}

	// Initialize text generation provider
	provider := createProvider(cfg, log)
	log.WithField("provider", provider.Name()).Info("Text generation provider initialized")

	ingester := ingest.New(cfg, chainClient, db, log)
	signalPoller := poller.New(db, log)
	generator := insight.NewGenerator(db, provider, confidence.NewScorer(cfg), cfg, log)

	// Start HTTP server (health + metrics)
	go startHTTPServer(cfg.HealthPort, log)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	pollTicker := time.NewTicker(time.Duration(cfg.PollIntervalSec) * time.Second)
	defer pollTicker.Stop()

	backlogTicker := time.NewTicker(time.Minute)
	defer backlogTicker.Stop()

	accuracyTicker := time.NewTicker(time.Duration(cfg.AccuracyFoldHours) * time.Hour)
	defer accuracyTicker.Stop()

	log.Info("Starting signal pipeline")

	// Run a full cycle immediately on startup
	runCycle(ctx, ingester, signalPoller, generator, cfg, log)

	for {
		select {
		case <-pollTicker.C:
			runCycle(ctx, ingester, signalPoller, generator, cfg, log)
		case <-backlogTicker.C:
			signalPoller.ReportBacklog(ctx, cfg.StaleSignalMaxAge)
		case <-accuracyTicker.C:
			go ingest.FoldAccuracy(ctx, db, log)
		case sig := <-sigChan:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
			log.Info("Graceful shutdown complete")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, shutting down")
			return
		}
	}
}

// runCycle executes one ingest pass followed by one insight generation
// pass. Groups are marked processed only after their insight is durably
// persisted or the group was suppressed; a failed group stays unprocessed
// and is retried next cycle.
func runCycle(ctx context.Context, ingester *ingest.Ingester, signalPoller *poller.Poller, generator *insight.Generator, cfg *config.Config, log *logrus.Logger) {
	if err := ingester.Cycle(ctx); err != nil {
		log.WithError(err).Error("Ingest cycle failed")
	}

	groups, err := signalPoller.Poll(ctx, cfg.PollBatchLimit)
	if err != nil {
		log.WithError(err).Error("Signal poll failed")
		return
	}

	for _, result := range generator.GenerateBatch(ctx, groups) {
		if result.Err != nil {
			continue
		}
		if err := signalPoller.MarkGroupProcessed(ctx, result.Group); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"signal_type":  string(result.Group.Type),
				"block_height": result.Group.BlockHeight,
			}).Error("Failed to mark group processed")
		}
	}
}

func runBackfill(cfg *config.Config, db *storage.DB, client *chain.Client, log *logrus.Logger, startStr, endStr, typesStr string) {
	if startStr == "" || endStr == "" {
		log.Fatal("Both -backfill-start and -backfill-end are required for backfill mode")
	}

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		log.WithError(err).Fatal("Invalid -backfill-start date")
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		log.WithError(err).Fatal("Invalid -backfill-end date")
	}

	var types []sigproc.Type
	if typesStr != "" {
		for _, t := range strings.Split(typesStr, ",") {
			types = append(types, sigproc.Type(strings.TrimSpace(t)))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		log.WithField("signal", s).Info("Received shutdown signal, stopping backfill")
		cancel()
	}()

	runner := backfill.NewRunner(client, db, cfg, log)
	result, err := runner.RunDateRange(ctx, start, end, types)
	if err != nil {
		log.WithError(err).Fatal("Backfill failed")
	}

	log.WithFields(logrus.Fields{
		"blocks_processed":  result.BlocksProcessed,
		"signals_generated": result.SignalsGenerated,
		"duration_seconds":  result.DurationSeconds,
		"errors":            len(result.Errors),
	}).Info("Backfill finished")

	for _, msg := range result.Errors {
		log.WithField("error", msg).Warn("Backfill block error")
	}
}

func createProvider(cfg *config.Config, log *logrus.Logger) insight.TextGenerationProvider {
	switch cfg.ProviderMode {
	case "openai":
		return insight.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.ProviderTimeout)
	case "static":
		return insight.NewStaticProvider()
	default:
		log.WithField("provider_mode", cfg.ProviderMode).Warn("Unknown provider mode, using static")
		return insight.NewStaticProvider()
	}
}

func startHTTPServer(port int, log *logrus.Logger) {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy"}`)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready"}`)
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.WithField("port", port).Info("Starting HTTP server (health + metrics)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("HTTP server failed")
	}
}
