package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/agro-analyzer/pkg/client"
	"github.com/menta2k/agro-analyzer/pkg/processing"
	"github.com/menta2k/agro-analyzer/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks a vision model for field regions in a dual-fisheye frame
const DefaultPrompt = `You are an agronomic region locator for dual-fisheye drone photos.
The frame holds two circular fisheye images side by side.

Return JSON only:
{
  "detections": [
    {"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- Labels: use "sky" for open sky or clouds, "soil" for bare ground or dirt,
  and the crop name (e.g. "corn", "wheat", "vine") for vegetation.
- box.x and box.y are the top-left corner; all coordinates are normalized to [0,1] (NOT pixels).
- Report every region you are reasonably sure about, at most 10.
- confidence is in [0,1].
- If nothing is found, return {"detections": [], "description": "nothing found"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options controls how frames are sent to the model
type Options struct {
	Model   string
	Prompt  string
	Format  string // jpg or png
	MaxDim  int    // long side in px, 0 keeps the original size
	Quality int
}

// DefaultOptions returns the options used by the CLI
func DefaultOptions(model string) Options {
	return Options{
		Model:   model,
		Prompt:  DefaultPrompt,
		Format:  "jpg",
		MaxDim:  1536,
		Quality: 85,
	}
}

// VisionDetector adapts a vision language model to the Detector interface
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, opts Options) *VisionDetector {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &VisionDetector{
		client:    client,
		processor: processing.NewProcessor(),
		opts:      opts,
	}
}

// Predict sends img to the model and converts its normalized boxes into
// pixel detections of img, dropping those below confidence.
func (d *VisionDetector) Predict(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.Format, d.opts.MaxDim, d.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	resp, err := d.client.DetectObjects(ctx, d.opts.Model, d.opts.Prompt, imgB64)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return ToPixelDetections(resp, bounds.Dx(), bounds.Dy(), confidence), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *VisionDetector) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.Format, d.opts.MaxDim, d.opts.Quality)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.opts.Model, SimpleTestPrompt, imgB64)
}

// ToPixelDetections converts model output to pixel detections for a
// width x height image. Empty labels, empty boxes and detections below
// minConfidence are dropped.
func ToPixelDetections(resp *types.DetectionResponse, width, height int, minConfidence float64) []types.Detection {
	if resp == nil {
		return nil
	}

	out := make([]types.Detection, 0, len(resp.Detections))
	for _, md := range resp.Detections {
		label := strings.ToLower(strings.TrimSpace(md.Label))
		if label == "" || label == "none" {
			continue
		}
		conf := clamp(md.Confidence, 0, 1)
		if conf < minConfidence {
			continue
		}

		box := normalizeBox(md.Box, width, height)
		if box.W == 0 || box.H == 0 {
			continue
		}

		fw, fh := float64(width), float64(height)
		out = append(out, types.Detection{
			Class:      label,
			Confidence: conf,
			X:          (box.X + box.W/2) * fw,
			Y:          (box.Y + box.H/2) * fh,
			Width:      box.W * fw,
			Height:     box.H * fh,
		})
	}
	return out
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds, converting
// from pixels when the model ignored the instructions.
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = types.Box{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}

	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
