package client

import (
	"context"
	"image"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

// Detector is the external object detector. Implementations are built once
// by the surrounding service and shared across analyses.
type Detector interface {
	// Predict returns the objects found in img with at least the given
	// confidence (0..1). Box centers and sizes are in pixels of img.
	Predict(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error)
}

// VisionClient talks to a multimodal language model
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectObjects(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResponse, error)
}

// DetectorFunc adapts a plain function to the Detector interface
type DetectorFunc func(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error)

// Predict calls f
func (f DetectorFunc) Predict(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error) {
	return f(ctx, img, confidence)
}
