package processor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/faceredact-engine/internal/clients"
	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
)

// encodeCrops cuts one crop per detection out of img and JPEG-encodes them
// concurrently. The returned parts are in detection order regardless of
// completion order.
func encodeCrops(ctx context.Context, img *imaging.Image, detections []clients.Detection, quality, workers int) ([]clients.FilePart, error) {
	parts := make([]clients.FilePart, len(detections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, d := range detections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			b := d.Box()
			crop := img.Crop(imaging.Region{X: b.X1, Y: b.Y1, W: b.X2 - b.X1, H: b.Y2 - b.Y1})
			data, err := crop.EncodeJPEG(quality)
			if err != nil {
				return fmt.Errorf("face %d: %w", i, err)
			}

			parts[i] = clients.FilePart{
				Filename:    fmt.Sprintf("cara_%d.jpg", i),
				ContentType: "image/jpeg",
				Data:        data,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}
