/**
 * Face Redaction Engine - Main Entry Point
 *
 * Accepts an image, asks the detector service for face boxes, asks the
 * age classifier which faces belong to minors, and returns the image with
 * those faces pixelated (or annotated, in debug mode).
 *
 * Ingress:
 * - HTTP: POST /procesar, POST /pixelar, GET /, GET /health
 * - Queue (optional): asynq tasks or a plain Redis list, per QUEUE_MODE
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/faceredact-engine/internal/clients"
	"github.com/adverant/nexus/faceredact-engine/internal/config"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
	"github.com/adverant/nexus/faceredact-engine/internal/queue"
	"github.com/adverant/nexus/faceredact-engine/internal/server"
)

const shutdownTimeout = 30 * time.Second

// stopper is a running ingress that must be drained on shutdown
type stopper func(ctx context.Context) error

// queueIngress is a started queue consumer
type queueIngress struct {
	stop  stopper
	stats server.QueueStats
}

func main() {
	log := logging.NewLogger("Main")

	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Debug("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Warn("Invalid logging configuration, keeping defaults", "error", err)
	}
	log = logging.NewLogger("Main")

	log.Info("Face redaction engine starting",
		"port", cfg.Port,
		"detector", cfg.DetectorURL,
		"classifier", cfg.ClassifierURL,
		"pixelation", pixelationTarget(cfg),
		"queue_mode", cfg.QueueMode)

	// Collaborators
	detector := clients.NewDetectorClient(cfg.DetectorURL)
	classifier := clients.NewClassifierClient(cfg.ClassifierURL)
	dependencies := map[string]server.HealthChecker{
		"detector":   detector,
		"classifier": classifier,
	}

	pipelineCfg := &processor.PipelineConfig{
		Detector:        detector,
		Classifier:      classifier,
		UpstreamTimeout: cfg.UpstreamTimeoutDuration(),
		JPEGQuality:     cfg.JPEGQuality,
		CropWorkers:     cfg.CropWorkers,
		MinorThreshold:  cfg.MinorThreshold,
		MaxPixels:       cfg.MaxPixels,
	}
	if cfg.PixelationURL != "" {
		pixelator := clients.NewPixelationClient(cfg.PixelationURL)
		pipelineCfg.Pixelator = pixelator
		dependencies["pixelation"] = pixelator
	}

	checkDependencies(log, dependencies)

	pipeline, err := processor.NewPipeline(pipelineCfg)
	if err != nil {
		log.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	// Queue ingress
	ingress, err := startQueue(cfg, pipeline)
	if err != nil {
		log.Error("Failed to start queue consumer", "mode", cfg.QueueMode, "error", err)
		os.Exit(1)
	}

	// HTTP ingress
	serverCfg := &server.ServerConfig{
		Port:          cfg.Port,
		MaxUploadSize: cfg.MaxUploadSize,
		MaxPixels:     cfg.MaxPixels,
		JPEGQuality:   cfg.JPEGQuality,
		Processor:     pipeline,
		Dependencies:  dependencies,
	}
	if ingress != nil {
		serverCfg.Queue = ingress.stats
	}
	srv, err := server.NewServer(serverCfg)
	if err != nil {
		log.Error("Failed to initialize HTTP server", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		log.Error("Failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	stoppers := []stopper{srv.Shutdown}
	if ingress != nil {
		stoppers = append(stoppers, ingress.stop)
	}

	log.Info("Face redaction engine is ready")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, stop := range stoppers {
		if err := stop(ctx); err != nil {
			log.Error("Error during shutdown", "error", err)
		}
	}

	log.Info("Shutdown complete")
}

// startQueue starts the consumer selected by QUEUE_MODE. It returns nil
// when queue ingress is disabled.
func startQueue(cfg *config.Config, proc processor.ProcessorInterface) (*queueIngress, error) {
	switch cfg.QueueMode {
	case config.QueueModeAsynq:
		consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(context.Background()); err != nil {
			return nil, err
		}
		return &queueIngress{stop: consumer.Stop, stats: consumer}, nil

	case config.QueueModeRedis:
		consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
			ResultTTL:         cfg.ResultTTL(),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(); err != nil {
			return nil, err
		}
		return &queueIngress{
			stop:  func(context.Context) error { return consumer.Stop() },
			stats: consumer,
		}, nil
	}

	return nil, nil
}

// checkDependencies probes collaborators once at startup. An unreachable
// collaborator is logged, not fatal: requests that need it fail with 500.
func checkDependencies(log *logging.Logger, deps map[string]server.HealthChecker) {
	for name, dep := range deps {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := dep.HealthCheck(ctx)
		cancel()
		if err != nil {
			log.Warn("Collaborator not reachable at startup", "collaborator", name, "error", err)
			continue
		}
		log.Info("Collaborator reachable", "collaborator", name)
	}
}

func pixelationTarget(cfg *config.Config) string {
	if cfg.PixelationURL == "" {
		return "in-process"
	}
	return cfg.PixelationURL
}
