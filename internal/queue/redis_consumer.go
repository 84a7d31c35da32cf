/**
 * Direct Redis Queue Consumer for the face redaction engine
 *
 * Producers HSET the job JSON into <queue>:data under its id and LPUSH the
 * id onto <queue>. Workers BRPOP ids, run the pipeline, and SET the
 * JobResult at <queue>:result:<id> with a TTL. Status changes are published
 * on <queue>:events. Failed jobs are not re-queued.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/faceredact-engine/internal/logging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client    *redis.Client
	processor processor.ProcessorInterface
	config    *RedisConsumerConfig
	keys      redisKeys
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *logging.Logger
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ProcessorInterface
	ProcessingTimeout time.Duration
	ResultTTL         time.Duration
}

type redisKeys struct {
	queue      string
	data       string
	processing string
	completed  string
	failed     string
	events     string
}

func newRedisKeys(queue string) redisKeys {
	return redisKeys{
		queue:      queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		events:     queue + ":events",
	}
}

// result is where the JobResult for id is stored
func (k redisKeys) result(id string) string {
	return fmt.Sprintf("%s:result:%s", k.queue, id)
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "faceredact:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 2 * time.Minute
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 10 * time.Minute
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      newRedisKeys(cfg.QueueName),
		ctx:       consumerCtx,
		cancel:    cancel,
		logger:    logging.NewLogger("RedisConsumer"),
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer, waiting for in-flight jobs
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
			if err := c.processNextJob(); err != nil {
				if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
					continue
				}
				log.Error("Worker error", "error", err)
				select {
				case <-c.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	res, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(res) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := res[1]

	raw, err := c.client.HGet(c.ctx, c.keys.data, jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	job, err := decodeRedisJob(jobID, []byte(raw))
	if err != nil {
		c.finish(jobID, invalidPayloadResult(jobID, err))
		return err
	}

	c.updateJobStatus(jobID, StatusProcessing)
	c.logger.Info("Processing job", "job_id", jobID, "filename", job.Payload.Filename)

	// Jobs run on a context detached from shutdown so in-flight work completes
	result := runJob(context.WithoutCancel(c.ctx), c.processor, &job.Payload, c.config.ProcessingTimeout, c.logger)
	c.finish(jobID, result)
	return nil
}

// decodeRedisJob parses a job record. The payload's request ID defaults to the job id.
func decodeRedisJob(jobID string, raw []byte) (*RedisJobData, error) {
	var job RedisJobData
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	if job.ID == "" {
		job.ID = jobID
	}
	if job.Payload.RequestID == "" {
		job.Payload.RequestID = job.ID
	}
	if err := job.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job %s: %w", jobID, err)
	}
	return &job, nil
}

// finish stores the result, drops the job record and moves the id into its final set
func (c *RedisConsumer) finish(jobID string, result *JobResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("Failed to marshal job result", "job_id", jobID, "error", err)
		return
	}

	ctx := context.WithoutCancel(c.ctx)
	final := c.keys.completed
	if result.Failed() {
		final = c.keys.failed
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.keys.result(jobID), data, c.config.ResultTTL)
		pipe.HDel(ctx, c.keys.data, jobID)
		pipe.SRem(ctx, c.keys.processing, jobID)
		pipe.SAdd(ctx, final, jobID)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to store job result", "job_id", jobID, "error", err)
		return
	}

	c.publish(ctx, jobID, result.Status)
}

// updateJobStatus marks a job as in flight
func (c *RedisConsumer) updateJobStatus(jobID, status string) {
	if err := c.client.SAdd(c.ctx, c.keys.processing, jobID).Err(); err != nil {
		c.logger.Warn("Failed to mark job as processing", "job_id", jobID, "error", err)
	}
	c.publish(c.ctx, jobID, status)
}

// publish emits a status event for subscribers
func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	if err := c.client.Publish(ctx, c.keys.events, eventData).Err(); err != nil {
		c.logger.Warn("Failed to publish job event", "job_id", jobID, "error", err)
	}
}

// Stats reports the list backlog and the size of each status set
func (c *RedisConsumer) Stats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.keys.queue).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.keys.processing).Result()
	completed, _ := c.client.SCard(ctx, c.keys.completed).Result()
	failed, _ := c.client.SCard(ctx, c.keys.failed).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
