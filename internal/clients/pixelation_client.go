package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
)

// PixelationClient calls a remote pixelation service (POST imagen + rectangulos).
// The engine's own /pixelar endpoint speaks the same contract.
type PixelationClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewPixelationClient creates a new pixelation client for the given endpoint URL
func NewPixelationClient(endpoint string) *PixelationClient {
	return &PixelationClient{
		endpoint:   endpoint,
		httpClient: newHTTPClient(),
		logger:     logging.NewLogger("PixelationClient"),
	}
}

// HealthCheck verifies the pixelation service is reachable
func (c *PixelationClient) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, c.httpClient, "pixelation", serviceRoot(c.endpoint))
}

// Pixelate uploads the original image with the regions to redact and returns the JPEG result
func (c *PixelationClient) Pixelate(ctx context.Context, image []byte, filename string, regions []imaging.Region) ([]byte, error) {
	rects := EncodeRectangles(regions)
	payload, err := json.Marshal(rects)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rectangles: %w", err)
	}

	if filename == "" {
		filename = "imagen.jpg"
	}

	body, err := postMultipart(ctx, c.httpClient, "pixelation", c.endpoint, []FilePart{{
		Field:    "imagen",
		Filename: filename,
		Data:     image,
	}}, map[string]string{"rectangulos": string(payload)})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Remote pixelation complete",
		"requestId", RequestIDFrom(ctx),
		"regions", len(regions),
		"bytes", len(body))

	return body, nil
}

// EncodeRectangles converts regions to the [[x,y,w,h],...] wire form
func EncodeRectangles(regions []imaging.Region) [][4]int {
	rects := make([][4]int, len(regions))
	for i, r := range regions {
		rects[i] = [4]int{r.X, r.Y, r.W, r.H}
	}
	return rects
}

// DecodeRectangles parses the [[x,y,w,h],...] wire form. Every element must
// be a list of exactly four numbers; fractional values are truncated.
func DecodeRectangles(data []byte) ([]imaging.Region, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("rectangles must be a JSON array: %w", err)
	}

	regions := make([]imaging.Region, 0, len(raw))
	for i, item := range raw {
		var nums []float64
		if err := json.Unmarshal(item, &nums); err != nil {
			return nil, fmt.Errorf("rectangle %d must be a list of numbers: %w", i, err)
		}
		if len(nums) != 4 {
			return nil, fmt.Errorf("rectangle %d must have 4 values [x,y,w,h], got %d", i, len(nums))
		}
		regions = append(regions, imaging.Region{
			X: int(nums[0]),
			Y: int(nums[1]),
			W: int(nums[2]),
			H: int(nums[3]),
		})
	}
	return regions, nil
}
