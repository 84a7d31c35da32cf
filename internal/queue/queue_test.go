package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/faceredact-engine/internal/errors"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

type fakeProcessor struct {
	calls   int
	lastReq *processor.Request
	result  *processor.Result
	err     error
	block   bool
}

func (f *fakeProcessor) Process(ctx context.Context, req *processor.Request) (*processor.Result, error) {
	f.calls++
	f.lastReq = req
	if f.block {
		<-ctx.Done()
		return nil, apperrors.NewUpstreamError("detection", ctx.Err())
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testLogger() *logging.Logger {
	return logging.NewLoggerTo(&bytes.Buffer{}, "test")
}

func TestJobPayloadImageEncodings(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    []byte
		wantErr bool
	}{
		{"base64", `{"requestId":"r","image":"AQID"}`, []byte{1, 2, 3}, false},
		{"node buffer", `{"requestId":"r","image":{"type":"Buffer","data":[1,2,3]}}`, []byte{1, 2, 3}, false},
		{"absent", `{"requestId":"r"}`, nil, false},
		{"bad base64", `{"requestId":"r","image":"%%%"}`, nil, true},
		{"wrong buffer type", `{"requestId":"r","image":{"type":"Blob","data":[1]}}`, nil, true},
		{"byte out of range", `{"requestId":"r","image":{"type":"Buffer","data":[256]}}`, nil, true},
		{"number", `{"requestId":"r","image":42}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			err := json.Unmarshal([]byte(tt.json), &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.RequestID != "r" || !bytes.Equal(p.Image, tt.want) {
				t.Errorf("unexpected payload %+v", p)
			}
		})
	}
}

func TestJobPayloadValidate(t *testing.T) {
	if err := (&JobPayload{Image: []byte{1}}).Validate(); err == nil {
		t.Error("expected error without request ID")
	}
	if err := (&JobPayload{RequestID: "r"}).Validate(); err == nil {
		t.Error("expected error without image")
	}
	if err := (&JobPayload{RequestID: "r", Image: []byte{1}}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunJobCompleted(t *testing.T) {
	proc := &fakeProcessor{result: &processor.Result{
		Body:        []byte("jpeg"),
		ContentType: "image/jpeg",
		Faces:       make([]processor.FacePair, 3),
	}}
	payload := &JobPayload{RequestID: "r1", Filename: "a.png", Image: []byte{1}, Debug: true}

	result := runJob(context.Background(), proc, payload, time.Second, testLogger())

	if result.Failed() || result.Status != StatusCompleted {
		t.Fatalf("unexpected status %q", result.Status)
	}
	if string(result.Image) != "jpeg" || result.FacesDetected != 3 || result.FacesRedacted != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if proc.lastReq.Mode != processor.ModeDebug || proc.lastReq.RequestID != "r1" {
		t.Errorf("unexpected request %+v", proc.lastReq)
	}
}

func TestRunJobFailureCarriesErrorBody(t *testing.T) {
	proc := &fakeProcessor{err: apperrors.NewDecodeError(errors.New("not an image"))}
	payload := &JobPayload{RequestID: "r1", Image: []byte{1}}

	result := runJob(context.Background(), proc, payload, time.Second, testLogger())

	if !result.Failed() || result.StatusCode != 400 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Error == nil || result.Error.Detalle != "not an image" {
		t.Errorf("unexpected error body %+v", result.Error)
	}
	if result.Image != nil {
		t.Error("failed job must not carry an image")
	}
}

func TestRunJobProcessingTimeout(t *testing.T) {
	proc := &fakeProcessor{block: true}
	payload := &JobPayload{RequestID: "r1", Image: []byte{1}}

	result := runJob(context.Background(), proc, payload, 20*time.Millisecond, testLogger())

	if !result.Failed() || result.StatusCode != 500 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func newTestConsumer(proc processor.ProcessorInterface) *Consumer {
	cfg := &ConsumerConfig{QueueName: "faceredact:test", Processor: proc}
	applyConsumerDefaults(cfg)
	return &Consumer{processor: proc, config: cfg, logger: testLogger()}
}

func TestHandleRedact(t *testing.T) {
	proc := &fakeProcessor{result: &processor.Result{Body: []byte("jpeg")}}
	c := newTestConsumer(proc)

	task, err := NewRedactTask(&JobPayload{RequestID: "r1", Filename: "a.jpg", Image: []byte{9, 9}})
	if err != nil {
		t.Fatalf("NewRedactTask: %v", err)
	}
	if task.Type() != TaskTypeRedact {
		t.Errorf("unexpected task type %q", task.Type())
	}

	if err := c.handleRedact(context.Background(), task); err != nil {
		t.Fatalf("handleRedact: %v", err)
	}
	if !bytes.Equal(proc.lastReq.ImageData, []byte{9, 9}) {
		t.Errorf("image bytes did not survive the task payload: %v", proc.lastReq.ImageData)
	}
}

func TestHandleRedactFailuresSkipRetry(t *testing.T) {
	t.Run("pipeline error", func(t *testing.T) {
		c := newTestConsumer(&fakeProcessor{err: apperrors.NewUpstreamError("classification", errors.New("503"))})
		task, _ := NewRedactTask(&JobPayload{RequestID: "r1", Image: []byte{1}})

		err := c.handleRedact(context.Background(), task)
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("expected SkipRetry, got %v", err)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		proc := &fakeProcessor{}
		c := newTestConsumer(proc)

		err := c.handleRedact(context.Background(), asynq.NewTask(TaskTypeRedact, []byte("{")))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("expected SkipRetry, got %v", err)
		}
		if proc.calls != 0 {
			t.Error("processor must not run for a malformed payload")
		}
	})

	t.Run("missing image", func(t *testing.T) {
		c := newTestConsumer(&fakeProcessor{})
		err := c.handleRedact(context.Background(), asynq.NewTask(TaskTypeRedact, []byte(`{"requestId":"r1"}`)))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("expected SkipRetry, got %v", err)
		}
	})
}

func TestNewRedactTaskRejectsInvalidPayload(t *testing.T) {
	if _, err := NewRedactTask(&JobPayload{RequestID: "r1"}); err == nil {
		t.Error("expected error for payload without image")
	}
}

func TestTaskOptionsDisableRetries(t *testing.T) {
	opts := TaskOptions("faceredact:jobs", time.Minute)

	var sawMaxRetry bool
	for _, opt := range opts {
		if opt.Type() == asynq.MaxRetryOpt {
			sawMaxRetry = true
			if opt.Value() != 0 {
				t.Errorf("expected MaxRetry(0), got %v", opt.Value())
			}
		}
	}
	if !sawMaxRetry {
		t.Error("MaxRetry option missing")
	}
}

func TestDecodeRedisJob(t *testing.T) {
	raw := []byte(`{"id":"job-1","type":"redact","payload":{"filename":"a.png","image":"AQID"}}`)

	job, err := decodeRedisJob("job-1", raw)
	if err != nil {
		t.Fatalf("decodeRedisJob: %v", err)
	}
	if job.Payload.RequestID != "job-1" {
		t.Errorf("request ID should default to the job id, got %q", job.Payload.RequestID)
	}
	if !bytes.Equal(job.Payload.Image, []byte{1, 2, 3}) {
		t.Errorf("unexpected image %v", job.Payload.Image)
	}

	if _, err := decodeRedisJob("job-2", []byte(`{"id":"job-2","payload":{}}`)); err == nil {
		t.Error("expected error for payload without image")
	}
	if _, err := decodeRedisJob("job-3", []byte(`not json`)); err == nil {
		t.Error("expected error for malformed job")
	}
}

func TestInvalidPayloadResult(t *testing.T) {
	result := invalidPayloadResult("job-1", errors.New("bad"))
	if !result.Failed() || result.StatusCode != 400 || result.Error == nil {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestRedisKeys(t *testing.T) {
	k := newRedisKeys("faceredact:jobs")
	if k.data != "faceredact:jobs:data" || k.events != "faceredact:jobs:events" {
		t.Errorf("unexpected keys %+v", k)
	}
	if got := k.result("abc"); got != "faceredact:jobs:result:abc" {
		t.Errorf("unexpected result key %q", got)
	}
}

func TestConsumerConfigValidation(t *testing.T) {
	proc := &fakeProcessor{}

	if _, err := NewConsumer(&ConsumerConfig{QueueName: "q", Processor: proc}); err == nil {
		t.Error("expected error without Redis URL")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", Processor: proc}); err == nil {
		t.Error("expected error without queue name")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "q"}); err == nil {
		t.Error("expected error without processor")
	}
	if _, err := NewRedisConsumer(&RedisConsumerConfig{Processor: proc}); err == nil {
		t.Error("expected error without Redis URL")
	}
	if _, err := NewRedisConsumer(&RedisConsumerConfig{RedisURL: "redis://localhost:6379"}); err == nil {
		t.Error("expected error without processor")
	}
}
