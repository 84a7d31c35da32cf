/**
 * Classifier Client
 *
 * Submits every face crop of one request to the age-classification service
 * in a single batched call. The service answers with one flag per crop, in
 * submission order, either as a bare array ([0,1,...]) or, in debug mode,
 * wrapped with per-crop details:
 *
 *   {"resultados": [0,1], "detalle": [{"imagen_id": "...", "probabilidad": 0.83, "es_menor": true}]}
 *
 * The minor threshold belongs to the classifier; the engine only forwards
 * it when one is configured.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/adverant/nexus/faceredact-engine/internal/logging"
)

// MinorFlag is a classifier verdict. The service emits 0/1 but booleans are accepted too.
type MinorFlag bool

// UnmarshalJSON accepts 0, 1, true and false
func (f *MinorFlag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "1", "true", "1.0":
		*f = true
	case "0", "false", "0.0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid classification flag %s", string(data))
	}
	return nil
}

// ClassificationDetail is the per-crop record returned in debug mode
type ClassificationDetail struct {
	ImageID     string   `json:"imagen_id"`
	Probability float64  `json:"probabilidad"`
	IsMinor     bool     `json:"es_menor"`
	Threshold   *float64 `json:"umbral,omitempty"`
}

// ClassifyResponse holds the ordered flags and, in debug mode, the matching details
type ClassifyResponse struct {
	Flags   []MinorFlag            `json:"resultados"`
	Details []ClassificationDetail `json:"detalle,omitempty"`
}

// ClassifyRequest is one batch of face crops
type ClassifyRequest struct {
	Crops     []FilePart
	Debug     bool
	Threshold float64 // 0 = classifier default
}

// ClassifierClient handles communication with the age-classification service
type ClassifierClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClassifierClient creates a new classifier client for the given endpoint URL
func NewClassifierClient(endpoint string) *ClassifierClient {
	return &ClassifierClient{
		endpoint:   endpoint,
		httpClient: newHTTPClient(),
		logger:     logging.NewLogger("ClassifierClient"),
	}
}

// HealthCheck verifies the classifier service is reachable
func (c *ClassifierClient) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, c.httpClient, "classifier", serviceRoot(c.endpoint))
}

// Classify sends all crops as repeated multipart field "imagenes"
func (c *ClassifierClient) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	if len(req.Crops) == 0 {
		return nil, fmt.Errorf("at least one crop is required")
	}

	files := make([]FilePart, len(req.Crops))
	for i, crop := range req.Crops {
		crop.Field = "imagenes"
		files[i] = crop
	}

	fields := map[string]string{}
	if req.Debug {
		fields["debug"] = "true"
	}
	if req.Threshold > 0 {
		fields["umbral"] = strconv.FormatFloat(req.Threshold, 'f', -1, 64)
	}

	body, err := postMultipart(ctx, c.httpClient, "classifier", c.endpoint, files, fields)
	if err != nil {
		return nil, err
	}

	result, err := ParseClassifyResponse(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Crops classified",
		"requestId", RequestIDFrom(ctx),
		"submitted", len(files),
		"flags", len(result.Flags),
		"details", len(result.Details))

	return result, nil
}

// ParseClassifyResponse accepts both the bare-array and the debug-object shapes
func ParseClassifyResponse(body []byte) (*ClassifyResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("classifier returned an empty body")
	}

	var result ClassifyResponse
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &result.Flags); err != nil {
			return nil, fmt.Errorf("failed to parse classifier flags: %w (raw response: %s)", err, truncate(trimmed, 256))
		}
	case '{':
		if err := json.Unmarshal(trimmed, &result); err != nil {
			return nil, fmt.Errorf("failed to parse classifier response: %w (raw response: %s)", err, truncate(trimmed, 256))
		}
	default:
		return nil, fmt.Errorf("unexpected classifier response: %s", truncate(trimmed, 256))
	}

	return &result, nil
}
