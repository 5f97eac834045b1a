// Package vision turns uploaded media into clustered face crops and turns a
// single face image into a feature vector. The rest of the system depends only
// on the Provider and FaceEmbedder interfaces.
package vision

import (
	"context"
	"fmt"

	"github.com/your-org/facegate/internal/models"
)

// Crop is one detected face, JPEG encoded.
type Crop struct {
	Image      []byte
	Confidence float32
	Embedding  []float32
}

// Result is what a provider reports for one upload. Valid=false or
// FaceCount=0 is a terminal outcome, not an error.
type Result struct {
	Valid     bool
	FaceCount int
	Clusters  map[string][]Crop
	Message   string
}

// Provider extracts and groups faces from an image or a video.
type Provider interface {
	Extract(ctx context.Context, media []byte, kind models.MediaKind) (*Result, error)
}

// FaceSample is the dominant face found in a single image.
type FaceSample struct {
	Embedding  []float32
	Confidence float32
	Crop       []byte
}

// FaceEmbedder produces the feature vector for enrollment and recognition.
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, image []byte) (*FaceSample, error)
	FeatureVersion() string
}

// UnknownCluster collects faces that matched no group.
const UnknownCluster = "unknown"

func ClusterName(label int) string {
	if label < 0 {
		return UnknownCluster
	}
	return fmt.Sprintf("cluster_%d", label)
}

func NoFacesMessage(kind models.MediaKind) string {
	article := "a"
	if kind == models.MediaImage {
		article = "an"
	}
	return fmt.Sprintf("No human faces detected in the uploaded %s. Please upload %s %s containing clear human faces.",
		kind, article, kind)
}

func SuccessMessage(count int, kind models.MediaKind) string {
	return fmt.Sprintf("Successfully extracted %d faces from %s.", count, kind)
}

const UnsupportedTypeMessage = "Unsupported file type. Please upload an image or video."
