/**
 * Asynq Queue Consumer for the face redaction engine
 *
 * Consumes "redact:image" tasks and writes the JobResult through the task's
 * result writer. Tasks are enqueued with MaxRetry(0) and handler failures
 * are wrapped in SkipRetry: a failed redaction is reported, never repeated.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/faceredact-engine/internal/logging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

// Consumer handles task consumption from an asynq queue
type Consumer struct {
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.ProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ProcessorInterface
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	applyConsumerDefaults(cfg)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	consumer := &Consumer{
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}

	consumer.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task failed", "type", task.Type(), "error", err)
			}),
			Logger:          asynqLogger{logger},
			ShutdownTimeout: cfg.ProcessingTimeout,
		},
	)

	consumer.mux.HandleFunc(TaskTypeRedact, consumer.handleRedact)

	return consumer, nil
}

func applyConsumerDefaults(cfg *ConsumerConfig) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 2 * time.Minute
	}
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping asynq consumer")

	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}

	c.logger.Info("Asynq consumer stopped")
	return nil
}

// NewRedactTask builds a redaction task from a payload. Producers enqueue it
// with TaskOptions.
func NewRedactTask(payload *JobPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeRedact, data), nil
}

// TaskOptions are the enqueue options every redaction task carries
func TaskOptions(queue string, retention time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Retention(retention),
	}
}

// handleRedact processes one redaction task
func (c *Consumer) handleRedact(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid job payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid job payload: %v: %w", err, asynq.SkipRetry)
	}

	c.logger.Info("Processing job",
		"job_id", payload.RequestID,
		"filename", payload.Filename,
		"bytes", len(payload.Image),
		"debug", payload.Debug)

	result := runJob(ctx, c.processor, &payload, c.config.ProcessingTimeout, c.logger)

	if err := writeTaskResult(task, result); err != nil {
		c.logger.Warn("Failed to write job result", "job_id", payload.RequestID, "error", err)
	}

	if result.Failed() {
		return fmt.Errorf("job %s failed: %s: %w", payload.RequestID, result.Error.Detalle, asynq.SkipRetry)
	}
	return nil
}

// writeTaskResult stores the result on the task. Tasks built outside a
// running server have no result writer.
func writeTaskResult(task *asynq.Task, result *JobResult) error {
	w := task.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Stats reports the task backlog of the consumed queue. Failed tasks are
// archived, never retried, so "failed" is the archive size. A queue nothing
// has been enqueued on yet reports zeros.
func (c *Consumer) Stats(ctx context.Context) (map[string]int64, error) {
	stats := map[string]int64{
		"waiting":    0,
		"processing": 0,
		"completed":  0,
		"failed":     0,
	}

	queues, err := c.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	if !slices.Contains(queues, c.config.QueueName) {
		return stats, nil
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue %s: %w", c.config.QueueName, err)
	}
	stats["waiting"] = int64(info.Pending)
	stats["processing"] = int64(info.Active)
	stats["completed"] = int64(info.Completed)
	stats["failed"] = int64(info.Archived)
	return stats, nil
}

// asynqLogger routes asynq's internal logging through the engine logger
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
