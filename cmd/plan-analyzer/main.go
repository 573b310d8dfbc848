package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/async"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/export"
	"github.com/joseph-ayodele/plan-analyzer/internal/extract"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm/provider"
	"github.com/joseph-ayodele/plan-analyzer/internal/metrics"
	"github.com/joseph-ayodele/plan-analyzer/internal/ocr"
	"github.com/joseph-ayodele/plan-analyzer/internal/pipeline"
	repo "github.com/joseph-ayodele/plan-analyzer/internal/repository"
	"github.com/joseph-ayodele/plan-analyzer/internal/server"
)

const stageGaugeInterval = 30 * time.Second

func main() {
	// Setup structured logger that outputs messages with variables but no time/level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Connect(ctx, repo.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer repo.Close(db, logger)

	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	documents := repo.NewDocumentRepository(db, logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	client, closeLLM, err := provider.New(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Error("failed to build llm client", "error", err, "provider", cfg.LLM.Provider)
		os.Exit(1)
	}
	defer closeLLM()
	extractor := extract.NewService(metrics.InstrumentLLM(client, m), extract.Options{
		Timeout:        cfg.LLM.Timeout,
		SummaryTimeout: cfg.LLM.SummaryTimeout,
	}, logger)

	// Orchestrator
	workflow := pipeline.NewWorkflow(extractor, pipeline.InferencePolicy(cfg.Pipeline.MaxAttempts, cfg.Pipeline.RetryDelay))
	runner := pipeline.NewRunner(documents, workflow, pipeline.Config{ChainDelay: cfg.Pipeline.ChainDelay}, m, logger)
	queue := async.NewProcessorQueue(runner, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.JobTimeout),
	)
	runner.SetQueue(queue)

	if n, err := runner.Resume(ctx, cfg.Pipeline.QueueSize); err != nil {
		logger.Error("failed to resume interrupted documents", "error", err, "resumed", n)
	} else if n > 0 {
		logger.Info("resumed interrupted documents", "count", n)
	}

	// OCR result fetch
	fetcher := ocr.Router{}
	if cfg.OCR.FolderBaseURL != "" {
		fetcher.Folder = ocr.NewFolderClient(ocr.FolderConfig{
			BaseURL:      cfg.OCR.FolderBaseURL,
			ListTimeout:  cfg.OCR.ListTimeout,
			FetchTimeout: cfg.OCR.FetchTimeout,
		}, logger)
	}
	if cfg.OCR.GCSEnabled {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			logger.Error("failed to create storage client", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		fetcher.GCS = ocr.NewGCSFetcher(gcs, logger)
	}

	gate := admission.Gate{
		MinContentLength: cfg.Admission.MinContentLength,
		MinTableLength:   cfg.Admission.MinTableLength,
	}
	api := server.New(server.Deps{
		Documents: documents,
		Admission: admission.NewService(gate, documents, runner, m, logger),
		Fetcher:   fetcher,
		Retrier:   runner,
		Exporter:  export.NewService(documents, logger),
		Metrics:   promhttp.Handler(),
		Ready: func(ctx context.Context) error {
			return repo.HealthCheck(ctx, db, 2*time.Second, logger)
		},
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health listener
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("plan-analyzer http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("plan-analyzer grpc health listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		refreshStageGauge(gctx, documents, m, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
		queue.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type stageCounter interface {
	CountByStage(ctx context.Context) (map[constants.ProcessingStage]int, error)
}

// refreshStageGauge keeps the documents-per-stage gauge current until ctx ends.
func refreshStageGauge(ctx context.Context, counts stageCounter, m *metrics.Metrics, logger *slog.Logger) {
	t := time.NewTicker(stageGaugeInterval)
	defer t.Stop()
	for {
		if c, err := counts.CountByStage(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("metrics.stage_counts.failed", "error", err)
			}
		} else {
			m.SetStageCounts(c)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
