/**
 * Redaction Pipeline
 *
 * Orchestrates one request end to end:
 * 1. Decode the upload into an RGB buffer
 * 2. Detect faces (one detector call)
 * 3. Crop and encode each face, preserving detection order
 * 4. Classify all crops (one batched classifier call)
 * 5. Join detections with flags (truncation rule)
 * 6. Render: pixelate minors, or annotate in debug mode
 *
 * Each stage either returns its typed payload or a PipelineError tagged with
 * the stage name; the first failure aborts the request. Nothing is retried.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/faceredact-engine/internal/clients"
	apperrors "github.com/adverant/nexus/faceredact-engine/internal/errors"
	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
)

// PipelineConfig holds pipeline configuration
type PipelineConfig struct {
	Detector   FaceDetector
	Classifier AgeClassifier
	// Pixelator, when set, replaces in-process pixelation in redact mode
	Pixelator RemotePixelator

	UpstreamTimeout time.Duration
	JPEGQuality     int
	CropWorkers     int
	MinorThreshold  float64 // forwarded to the classifier; 0 = its default
	MaxPixels       int     // decode limit; 0 = imaging.DefaultMaxPixels

	Logger *logging.Logger
}

// Pipeline runs detection, classification and rendering for one request at a time.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	config     *PipelineConfig
	detector   FaceDetector
	classifier AgeClassifier
	renderers  map[Mode]Renderer
	logger     *logging.Logger
}

// NewPipeline creates a new pipeline
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}

	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 95
	}
	if cfg.CropWorkers <= 0 {
		cfg.CropWorkers = 4
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = imaging.DefaultMaxPixels
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("Pipeline")
	}

	var redact Renderer = &RedactRenderer{Quality: cfg.JPEGQuality}
	if cfg.Pixelator != nil {
		redact = NewRemoteRedactRenderer(cfg.Pixelator, cfg.UpstreamTimeout)
	}

	return &Pipeline{
		config:     cfg,
		detector:   cfg.Detector,
		classifier: cfg.Classifier,
		renderers: map[Mode]Renderer{
			ModeRedact: redact,
			ModeDebug:  &DebugRenderer{Quality: cfg.JPEGQuality},
		},
		logger: cfg.Logger,
	}, nil
}

// Process runs the complete pipeline for one request
func (p *Pipeline) Process(ctx context.Context, req *Request) (*Result, error) {
	startTime := time.Now()
	log := p.logger.With("requestId", req.RequestID, "mode", req.Mode.String())
	ctx = clients.WithRequestID(ctx, req.RequestID)

	result, err := p.process(ctx, log, req)
	if err != nil {
		pe := apperrors.AsPipelineError(err).WithRequestID(req.RequestID)
		log.WithFields(pe.ToMap()).Error("Pipeline aborted",
			"duration", time.Since(startTime).String())
		return nil, pe
	}

	result.RequestID = req.RequestID
	result.Mode = req.Mode
	if result.ContentType == "" {
		result.ContentType = "image/jpeg"
	}
	result.Duration = time.Since(startTime)

	log.Info("Pipeline complete",
		"faces", len(result.Faces),
		"redacted", len(result.RegionsApplied),
		"bytes", len(result.Body),
		"duration", result.Duration.String())
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, log *logging.Logger, req *Request) (*Result, error) {
	renderer, ok := p.renderers[req.Mode]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown mode %d", req.Mode), nil)
	}

	// Step 1: Decode
	img, err := imaging.DecodeLimit(req.ImageData, p.config.MaxPixels)
	if err != nil {
		return nil, apperrors.NewDecodeError(err)
	}
	log.Debug("Step 1: Image decoded", "width", img.Width, "height", img.Height, "format", img.Format)

	// Step 2: Detect faces
	detected, err := callStage(ctx, StageDetection, p.config.UpstreamTimeout, func(ctx context.Context) (*clients.DetectResponse, error) {
		return p.detector.DetectFaces(ctx, &clients.DetectRequest{
			ImageData:   req.ImageData,
			Filename:    req.Filename,
			ContentType: req.ContentType,
		})
	})
	if err != nil {
		return nil, err
	}
	if detected == nil {
		return nil, apperrors.NewUpstreamError(StageDetection, fmt.Errorf("detector returned no payload"))
	}
	detections := detected.Detections
	log.Debug("Step 2: Faces detected", "faces", len(detections))

	if len(detections) == 0 {
		rendered, err := renderer.NoFaces(ctx, img)
		if err != nil {
			return nil, err
		}
		return &Result{Body: rendered.Body, ContentType: rendered.ContentType, Image: rendered.Image}, nil
	}

	// Step 3: Crop faces
	crops, err := encodeCrops(ctx, img, detections, p.config.JPEGQuality, p.config.CropWorkers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCanceledError(StageCrop, ctx.Err())
		}
		return nil, apperrors.NewInternalError(StageCrop, err)
	}
	log.Debug("Step 3: Faces cropped", "crops", len(crops))

	// Step 4: Classify the batch
	classified, err := callStage(ctx, StageClassification, p.config.UpstreamTimeout, func(ctx context.Context) (*clients.ClassifyResponse, error) {
		return p.classifier.Classify(ctx, &clients.ClassifyRequest{
			Crops:     crops,
			Debug:     req.Mode == ModeDebug,
			Threshold: p.config.MinorThreshold,
		})
	})
	if err != nil {
		return nil, err
	}
	if classified == nil {
		return nil, apperrors.NewUpstreamError(StageClassification, fmt.Errorf("classifier returned no payload"))
	}

	// Step 5: Join
	pairs := JoinResults(detections, classified)
	if len(classified.Flags) != len(detections) {
		log.Warn("Classifier returned a different number of flags than detections",
			"detections", len(detections),
			"flags", len(classified.Flags))
	}

	// Step 6: Render
	rendered, err := renderer.Render(ctx, img, req.Filename, pairs)
	if err != nil {
		return nil, err
	}

	return &Result{
		Body:           rendered.Body,
		Image:          rendered.Image,
		Faces:          pairs,
		RegionsApplied: rendered.Regions,
	}, nil
}

// callStage runs one collaborator call under its own deadline and maps any
// failure to an upstream error for that stage.
func callStage[T any](ctx context.Context, stage string, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := call(stageCtx)
	if err != nil {
		var zero T
		if stderrors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, apperrors.NewUpstreamTimeoutError(stage, timeout, err)
		}
		return zero, apperrors.NewUpstreamError(stage, err)
	}
	return out, nil
}
