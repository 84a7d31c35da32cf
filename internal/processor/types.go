package processor

import (
	"context"
	"time"

	"github.com/adverant/nexus/faceredact-engine/internal/clients"
	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
)

// Stage names carried by every pipeline error
const (
	StageDecode         = "decode"
	StageDetection      = "detection"
	StageCrop           = "crop"
	StageClassification = "classification"
	StageRender         = "render"
)

// Mode selects the terminal renderer. It is decided once at ingress.
type Mode int

const (
	// ModeRedact pixelates faces flagged as minors
	ModeRedact Mode = iota
	// ModeDebug annotates every classified face and never pixelates
	ModeDebug
)

// ModeFromDebug maps the ingress debug flag onto a Mode
func ModeFromDebug(debug bool) Mode {
	if debug {
		return ModeDebug
	}
	return ModeRedact
}

func (m Mode) String() string {
	if m == ModeDebug {
		return "debug"
	}
	return "redact"
}

// ProcessorInterface defines the interface ingress layers drive
type ProcessorInterface interface {
	Process(ctx context.Context, req *Request) (*Result, error)
}

// FaceDetector is the face-detection collaborator
type FaceDetector interface {
	DetectFaces(ctx context.Context, req *clients.DetectRequest) (*clients.DetectResponse, error)
}

// AgeClassifier is the age-classification collaborator
type AgeClassifier interface {
	Classify(ctx context.Context, req *clients.ClassifyRequest) (*clients.ClassifyResponse, error)
}

// RemotePixelator is the optional out-of-process pixelation collaborator
type RemotePixelator interface {
	Pixelate(ctx context.Context, image []byte, filename string, regions []imaging.Region) ([]byte, error)
}

// Request represents one redaction request
type Request struct {
	RequestID   string
	Filename    string
	ContentType string
	ImageData   []byte
	Mode        Mode
}

// FacePair joins a detection with its classification. It is built once,
// right after classification, and is the only place the positional
// correspondence between the two result sets is resolved.
type FacePair struct {
	Index     int
	Detection clients.Detection
	// Classified is false for detections beyond the end of the flag list.
	Classified bool
	Minor      bool
	Detail     *clients.ClassificationDetail
}

// Result represents the outcome of a successful request
type Result struct {
	RequestID   string
	Mode        Mode
	Body        []byte
	ContentType string
	// Image is the rendered buffer; nil when a remote pixelator produced the body.
	Image          *imaging.Image
	Faces          []FacePair
	RegionsApplied []imaging.Region
	Duration       time.Duration
}

// Rendered is what a terminal renderer hands back
type Rendered struct {
	Body []byte
	// ContentType is empty for JPEG output
	ContentType string
	Image       *imaging.Image
	Regions     []imaging.Region
}
