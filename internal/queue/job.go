/**
 * Queue job model shared by the asynq and Redis list consumers
 *
 * Both ingresses feed the same pipeline and hand back the same JobResult.
 * A failed job is never re-queued.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/faceredact-engine/internal/errors"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

// TaskTypeRedact is the asynq task type for image redaction
const TaskTypeRedact = "redact:image"

// Job statuses written to results and events
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobPayload is one image submitted through a queue
type JobPayload struct {
	RequestID string `json:"requestId"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType,omitempty"`
	Debug     bool   `json:"debug,omitempty"`
	Image     []byte `json:"image"`
}

// UnmarshalJSON accepts the image as a base64 string or a Node.js Buffer object
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		Image interface{} `json:"image,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.Image.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 image: %w", err)
		}
		p.Image = decoded
	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.Image = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.Image[i] = byte(byteVal)
		}
	default:
		return fmt.Errorf("image must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate rejects payloads the pipeline cannot start on
func (p *JobPayload) Validate() error {
	if p.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if len(p.Image) == 0 {
		return fmt.Errorf("image is required")
	}
	return nil
}

// JobResult is what a consumer hands back for one job
type JobResult struct {
	RequestID     string                   `json:"requestId"`
	Status        string                   `json:"status"`
	ContentType   string                   `json:"contentType,omitempty"`
	Image         []byte                   `json:"image,omitempty"`
	FacesDetected int                      `json:"facesDetected"`
	FacesRedacted int                      `json:"facesRedacted"`
	DurationMs    int64                    `json:"durationMs"`
	StatusCode    int                      `json:"statusCode,omitempty"`
	Error         *apperrors.ErrorResponse `json:"error,omitempty"`
}

// Failed reports whether the job ended in an error
func (r *JobResult) Failed() bool {
	return r.Status == StatusFailed
}

// invalidPayloadResult is the failed result for a job that never reached the pipeline
func invalidPayloadResult(jobID string, err error) *JobResult {
	perr := apperrors.NewValidationError("Invalid job payload", err).WithRequestID(jobID)
	resp := perr.Response()
	return &JobResult{
		RequestID:  jobID,
		Status:     StatusFailed,
		StatusCode: perr.StatusCode(),
		Error:      &resp,
	}
}

// runJob drives one payload through the pipeline under the processing timeout.
// It never returns nil.
func runJob(ctx context.Context, proc processor.ProcessorInterface, payload *JobPayload, timeout time.Duration, logger *logging.Logger) *JobResult {
	start := time.Now()
	result := &JobResult{RequestID: payload.RequestID}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := proc.Process(processCtx, &processor.Request{
		RequestID:   payload.RequestID,
		Filename:    payload.Filename,
		ContentType: payload.MimeType,
		ImageData:   payload.Image,
		Mode:        processor.ModeFromDebug(payload.Debug),
	})
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		perr := apperrors.AsPipelineError(err).WithRequestID(payload.RequestID)
		resp := perr.Response()
		result.Status = StatusFailed
		result.StatusCode = perr.StatusCode()
		result.Error = &resp

		if processCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			logger.Warn("Job processing timed out", "job_id", payload.RequestID, "timeout", timeout.String())
		}
		logger.Error("Job failed", "job_id", payload.RequestID, "stage", perr.Stage, "error", perr)
		return result
	}

	result.Status = StatusCompleted
	result.ContentType = out.ContentType
	result.Image = out.Body
	result.FacesDetected = len(out.Faces)
	result.FacesRedacted = len(out.RegionsApplied)

	logger.Info("Job completed",
		"job_id", payload.RequestID,
		"faces", result.FacesDetected,
		"redacted", result.FacesRedacted,
		"duration_ms", result.DurationMs)
	return result
}
