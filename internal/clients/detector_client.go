/**
 * Detector Client
 *
 * Sends the uploaded image to the face-detection service and returns the
 * located faces. The detector's model is opaque to the engine; only its
 * response contract matters:
 *
 *   {"detecciones": [{"bbox": [x1,y1,x2,y2], "confidence": f, "id": s}], "total_caras": n}
 */

package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
)

// Detection is a single face located by the detector
type Detection struct {
	ID         string  `json:"id"`
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Box returns the bounding box in corner-pair form
func (d Detection) Box() imaging.BBox {
	return imaging.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
}

// DetectResponse is the detector's success payload
type DetectResponse struct {
	Detections []Detection `json:"detecciones"`
	TotalFaces int         `json:"total_caras"`
}

// DetectRequest carries the image to scan
type DetectRequest struct {
	ImageData   []byte
	Filename    string
	ContentType string
}

// DetectorClient handles communication with the face-detection service
type DetectorClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDetectorClient creates a new detector client for the given endpoint URL
func NewDetectorClient(endpoint string) *DetectorClient {
	return &DetectorClient{
		endpoint:   endpoint,
		httpClient: newHTTPClient(),
		logger:     logging.NewLogger("DetectorClient"),
	}
}

// HealthCheck verifies the detector service is reachable
func (c *DetectorClient) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, c.httpClient, "detector", serviceRoot(c.endpoint))
}

// DetectFaces posts the image as multipart field "imagen" and parses the detections
func (c *DetectorClient) DetectFaces(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	if len(req.ImageData) == 0 {
		return nil, fmt.Errorf("image data is required: received empty buffer")
	}

	filename := req.Filename
	if filename == "" {
		filename = "imagen.jpg"
	}

	body, err := postMultipart(ctx, c.httpClient, "detector", c.endpoint, []FilePart{{
		Field:       "imagen",
		Filename:    filename,
		ContentType: req.ContentType,
		Data:        req.ImageData,
	}}, nil)
	if err != nil {
		return nil, err
	}

	var result DetectResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse detector response: %w (raw response: %s)", err, truncate(body, 256))
	}

	c.logger.Debug("Faces detected",
		"requestId", RequestIDFrom(ctx),
		"faces", len(result.Detections),
		"reported", result.TotalFaces)

	return &result, nil
}

// serviceRoot strips the path from an endpoint URL so health checks hit "/".
func serviceRoot(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.Path = "/"
	u.RawQuery = ""
	return u.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
