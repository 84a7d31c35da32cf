package processor

import (
	"context"
	"time"

	apperrors "github.com/adverant/nexus/faceredact-engine/internal/errors"
	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
	"github.com/adverant/nexus/faceredact-engine/internal/logging"
)

// StagePixelation names failures of the remote pixelation collaborator
const StagePixelation = "pixelation"

// Renderer is a terminal stage of the pipeline. Exactly one runs per request.
type Renderer interface {
	// NoFaces renders the output when the detector found nothing
	NoFaces(ctx context.Context, img *imaging.Image) (*Rendered, error)
	// Render renders the output for the joined detection/classification results
	Render(ctx context.Context, img *imaging.Image, filename string, pairs []FacePair) (*Rendered, error)
}

// RedactRenderer pixelates minors in-process, mutating the request's buffer
type RedactRenderer struct {
	Quality int
}

// NoFaces returns the upload untouched
func (r *RedactRenderer) NoFaces(ctx context.Context, img *imaging.Image) (*Rendered, error) {
	return passthrough(img), nil
}

// Render pixelates every region flagged as a minor and re-encodes the image
func (r *RedactRenderer) Render(ctx context.Context, img *imaging.Image, filename string, pairs []FacePair) (*Rendered, error) {
	regions := RedactionRegions(pairs, img.Width, img.Height)
	imaging.Pixelate(img, regions)

	body, err := img.EncodeJPEG(r.Quality)
	if err != nil {
		return nil, apperrors.NewInternalError(StageRender, err)
	}
	return &Rendered{Body: body, Image: img, Regions: regions}, nil
}

// RemoteRedactRenderer delegates pixelation to an external service
type RemoteRedactRenderer struct {
	Client  RemotePixelator
	Timeout time.Duration
	logger  *logging.Logger
}

// NewRemoteRedactRenderer creates a renderer backed by a pixelation service
func NewRemoteRedactRenderer(client RemotePixelator, timeout time.Duration) *RemoteRedactRenderer {
	return &RemoteRedactRenderer{
		Client:  client,
		Timeout: timeout,
		logger:  logging.NewLogger("RemoteRedactRenderer"),
	}
}

// NoFaces returns the upload untouched
func (r *RemoteRedactRenderer) NoFaces(ctx context.Context, img *imaging.Image) (*Rendered, error) {
	return passthrough(img), nil
}

// Render sends the original upload and the minor regions to the pixelation service
func (r *RemoteRedactRenderer) Render(ctx context.Context, img *imaging.Image, filename string, pairs []FacePair) (*Rendered, error) {
	regions := RedactionRegions(pairs, img.Width, img.Height)

	body, err := callStage(ctx, StagePixelation, r.Timeout, func(ctx context.Context) ([]byte, error) {
		return r.Client.Pixelate(ctx, img.Raw, filename, regions)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Remote pixelation applied", "regions", len(regions))
	return &Rendered{Body: body, Regions: regions}, nil
}

func passthrough(img *imaging.Image) *Rendered {
	return &Rendered{Body: img.Raw, ContentType: "image/" + img.Format, Image: img}
}

// DebugRenderer annotates a copy of the image instead of redacting it
type DebugRenderer struct {
	Quality int
}

// NoFaces overlays a fixed "no faces detected" message
func (r *DebugRenderer) NoFaces(ctx context.Context, img *imaging.Image) (*Rendered, error) {
	out := imaging.AnnotateMessage(img, imaging.NoFacesMessage)
	body, err := out.EncodeJPEG(r.Quality)
	if err != nil {
		return nil, apperrors.NewInternalError(StageRender, err)
	}
	return &Rendered{Body: body, Image: out}, nil
}

// Render outlines every classified face with its probability and tag
func (r *DebugRenderer) Render(ctx context.Context, img *imaging.Image, filename string, pairs []FacePair) (*Rendered, error) {
	out := imaging.Annotate(img, Annotations(pairs, img.Width, img.Height))
	body, err := out.EncodeJPEG(r.Quality)
	if err != nil {
		return nil, apperrors.NewInternalError(StageRender, err)
	}
	return &Rendered{Body: body, Image: out}, nil
}
