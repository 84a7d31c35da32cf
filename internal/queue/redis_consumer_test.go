package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/adverant/nexus/faceredact-engine/internal/errors"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

const testQueue = "faceredact:test"

func newMiniredisConsumer(t *testing.T, proc processor.ProcessorInterface) (*RedisConsumer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:          "redis://" + mr.Addr(),
		QueueName:         testQueue,
		Concurrency:       1,
		Processor:         proc,
		ProcessingTimeout: time.Second,
		ResultTTL:         10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRedisConsumer: %v", err)
	}
	c.logger = testLogger()
	t.Cleanup(func() {
		c.cancel()
		c.client.Close()
	})
	return c, mr
}

// subscribeEvents returns a channel of decoded job events published on the queue
func subscribeEvents(t *testing.T, c *RedisConsumer) <-chan map[string]string {
	t.Helper()
	ctx := context.Background()
	sub := c.client.Subscribe(ctx, c.keys.events)
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Close() })

	out := make(chan map[string]string, 8)
	go func() {
		for msg := range sub.Channel() {
			var event map[string]string
			if err := json.Unmarshal([]byte(msg.Payload), &event); err == nil {
				out <- event
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan map[string]string) map[string]string {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job event")
		return nil
	}
}

func TestRedisConsumerProcessNextJob(t *testing.T) {
	validJob := `{"id":"job-1","type":"redact","payload":{"filename":"a.png","image":"AQID"}}`

	tests := []struct {
		name       string
		proc       *fakeProcessor
		raw        string
		wantErr    bool
		wantSet    string
		wantStatus string
		wantCode   int
		wantCalls  int
		wantEvents []string
	}{
		{
			name:       "completed",
			proc:       &fakeProcessor{result: &processor.Result{Body: []byte("jpeg"), ContentType: "image/jpeg", Faces: make([]processor.FacePair, 2)}},
			raw:        validJob,
			wantSet:    ":completed",
			wantStatus: StatusCompleted,
			wantCalls:  1,
			wantEvents: []string{"job:processing", "job:completed"},
		},
		{
			name:       "pipeline failure is not re-queued",
			proc:       &fakeProcessor{err: apperrors.NewUpstreamError("classification", errors.New("503"))},
			raw:        validJob,
			wantSet:    ":failed",
			wantStatus: StatusFailed,
			wantCode:   500,
			wantCalls:  1,
			wantEvents: []string{"job:processing", "job:failed"},
		},
		{
			name:       "invalid payload",
			proc:       &fakeProcessor{},
			raw:        `{"id":"job-1","payload":{"filename":"a.png"}}`,
			wantErr:    true,
			wantSet:    ":failed",
			wantStatus: StatusFailed,
			wantCode:   400,
			wantCalls:  0,
			wantEvents: []string{"job:failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mr := newMiniredisConsumer(t, tt.proc)
			events := subscribeEvents(t, c)

			mr.HSet(testQueue+":data", "job-1", tt.raw)
			if _, err := mr.Lpush(testQueue, "job-1"); err != nil {
				t.Fatalf("lpush: %v", err)
			}

			err := c.processNextJob()
			if (err != nil) != tt.wantErr {
				t.Fatalf("processNextJob error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.proc.calls != tt.wantCalls {
				t.Errorf("processor calls = %d, want %d", tt.proc.calls, tt.wantCalls)
			}

			ctx := context.Background()
			resultKey := testQueue + ":result:job-1"
			raw, err := c.client.Get(ctx, resultKey).Bytes()
			if err != nil {
				t.Fatalf("result not stored: %v", err)
			}
			var result JobResult
			if err := json.Unmarshal(raw, &result); err != nil {
				t.Fatalf("result is not JSON: %v", err)
			}
			if result.RequestID != "job-1" || result.Status != tt.wantStatus || result.StatusCode != tt.wantCode {
				t.Errorf("unexpected result %+v", result)
			}
			if ttl := mr.TTL(resultKey); ttl != 10*time.Minute {
				t.Errorf("result TTL = %v, want 10m", ttl)
			}

			if ok, _ := c.client.SIsMember(ctx, testQueue+tt.wantSet, "job-1").Result(); !ok {
				t.Errorf("job not moved into %s", tt.wantSet)
			}
			if ok, _ := c.client.SIsMember(ctx, testQueue+":processing", "job-1").Result(); ok {
				t.Error("job left in the processing set")
			}
			if n, _ := c.client.LLen(ctx, testQueue).Result(); n != 0 {
				t.Errorf("queue holds %d ids, failed jobs must not be re-queued", n)
			}
			if exists, _ := c.client.HExists(ctx, testQueue+":data", "job-1").Result(); exists {
				t.Error("job record should be dropped once finished")
			}

			for _, want := range tt.wantEvents {
				e := nextEvent(t, events)
				if e["event"] != want || e["jobId"] != "job-1" || e["timestamp"] == "" {
					t.Errorf("event = %v, want %s", e, want)
				}
			}
		})
	}
}

func TestRedisConsumerMissingJobRecord(t *testing.T) {
	proc := &fakeProcessor{}
	c, mr := newMiniredisConsumer(t, proc)

	if _, err := mr.Lpush(testQueue, "ghost"); err != nil {
		t.Fatalf("lpush: %v", err)
	}

	err := c.processNextJob()
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected error naming the job, got %v", err)
	}
	if proc.calls != 0 {
		t.Error("processor must not run without a job record")
	}
}

func TestRedisConsumerStats(t *testing.T) {
	c, _ := newMiniredisConsumer(t, &fakeProcessor{})
	ctx := context.Background()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, testQueue, "a", "b", "c")
		pipe.SAdd(ctx, testQueue+":processing", "d")
		pipe.SAdd(ctx, testQueue+":completed", "e", "f")
		pipe.SAdd(ctx, testQueue+":failed", "g")
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := map[string]int64{"waiting": 3, "processing": 1, "completed": 2, "failed": 1}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%s] = %d, want %d", k, stats[k], v)
		}
	}
}

func TestRedisConsumerStatsUnreachable(t *testing.T) {
	c, mr := newMiniredisConsumer(t, &fakeProcessor{})
	mr.Close()

	if _, err := c.Stats(context.Background()); err == nil {
		t.Error("expected error once Redis is gone")
	}
}

func TestAsynqConsumerStatsBeforeFirstTask(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewConsumer(&ConsumerConfig{
		RedisURL:  "redis://" + mr.Addr(),
		QueueName: testQueue,
		Processor: &fakeProcessor{},
	})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	t.Cleanup(func() { c.inspector.Close() })

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for _, k := range []string{"waiting", "processing", "completed", "failed"} {
		if v, ok := stats[k]; !ok || v != 0 {
			t.Errorf("stats[%s] = %d (present %v), want 0", k, v, ok)
		}
	}
}
