// Package analyzer runs the per-image pipeline: decode, detect, classify,
// refine, project.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/menta2k/agro-analyzer/pkg/category"
	"github.com/menta2k/agro-analyzer/pkg/client"
	"github.com/menta2k/agro-analyzer/pkg/fisheye"
	"github.com/menta2k/agro-analyzer/pkg/processing"
	"github.com/menta2k/agro-analyzer/pkg/types"
	"github.com/menta2k/agro-analyzer/pkg/vision"
)

// Provenance tags recorded on results
const (
	SourceModel      = "IA"
	SourceColor      = "HSV-CV"
	SourceFallback   = "FALLBACK"
	SuffixOutOfLens  = "-OUT-OF-LENS"
	DefaultMinConfig = 0.01
)

var (
	// ErrDecode is returned when the input bytes are not a supported image
	ErrDecode = errors.New("image could not be decoded")
	// ErrNoDetector is returned when the analyzer was built without a detector
	ErrNoDetector = errors.New("no detector configured")
)

// Config holds the pipeline parameters
type Config struct {
	// Confidence is the floor passed to the detector. It is kept permissive
	// because the classifier keeps only the best detection per category.
	Confidence   float64
	RenderRadius float64
	Vision       vision.Config
	Projection   fisheye.Config
}

// DefaultConfig returns the production pipeline parameters
func DefaultConfig() Config {
	return Config{
		Confidence:   DefaultMinConfig,
		RenderRadius: fisheye.DefaultRenderRadius,
		Vision:       vision.DefaultConfig(),
		Projection:   fisheye.DefaultConfig(),
	}
}

// Analyzer turns one dual-fisheye frame into sky, soil and crop placements.
// It holds no per-request state and is safe for concurrent use.
type Analyzer struct {
	config     Config
	detector   client.Detector
	decode     func([]byte) (image.Image, error)
	table      *category.Table
	classifier *category.Classifier
	locator    *vision.Locator
	sky        *vision.SkyDetector
	projector  *fisheye.Projector
	logger     *log.Logger
}

// New creates an Analyzer with default configuration
func New(detector client.Detector) *Analyzer {
	return NewWithConfig(detector, DefaultConfig(), category.DefaultTable())
}

// NewWithConfig creates an Analyzer with custom configuration
func NewWithConfig(detector client.Detector, config Config, table *category.Table) *Analyzer {
	if table == nil {
		table = category.DefaultTable()
	}
	return &Analyzer{
		config:     config,
		detector:   detector,
		decode:     processing.NewProcessor().DecodeImage,
		table:      table,
		classifier: category.NewClassifier(table),
		locator:    vision.NewLocatorWithConfig(config.Vision),
		sky:        vision.NewSkyDetectorWithConfig(config.Vision),
		projector:  fisheye.NewWithConfig(config.Projection),
		logger:     log.Default(),
	}
}

// SetLogger replaces the logger; nil silences logging
func (a *Analyzer) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	a.logger = l
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
}

// GetImageInfo returns basic information about an image
func GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{Width: width, Height: height, Area: width * height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// Result is a completed analysis. Report is what gets returned to clients;
// the rest is kept for debugging output.
type Result struct {
	ID         string
	Info       ImageInfo
	Detections []types.Detection
	Selection  category.Selection
	Report     types.Report
}

// Analyze decodes data and analyzes it. Undecodable input returns ErrDecode
// without calling the detector.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (*Result, error) {
	img, err := a.decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return a.AnalyzeImage(ctx, img)
}

// decodeImage turns decoder panics (the WebP path is cgo) into errors
func (a *Analyzer) decodeImage(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("decoder panicked: %v", r)
			img, err = nil, fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	return a.decode(data)
}

// Outcome analyzes data and folds any failure into an error outcome
func (a *Analyzer) Outcome(ctx context.Context, data []byte) types.Outcome {
	res, err := a.Analyze(ctx, data)
	if err != nil {
		return types.Outcome{Error: err.Error()}
	}
	return types.Outcome{Report: &res.Report}
}

// AnalyzeImage runs the pipeline on a decoded image. Per-category problems
// degrade to fallback placements; only detector failures and unexpected
// panics are returned as errors.
func (a *Analyzer) AnalyzeImage(ctx context.Context, img image.Image) (res *Result, err error) {
	if a.detector == nil {
		return nil, ErrNoDetector
	}

	id := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("analysis %s: recovered from panic: %v", id, r)
			res, err = nil, fmt.Errorf("analysis failed: %v", r)
		}
	}()

	info := GetImageInfo(img)

	frame, err := vision.NewFrame(img)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare frame: %w", err)
	}
	defer frame.Close()

	dets, err := a.detector.Predict(ctx, img, a.config.Confidence)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	a.logger.Printf("analysis %s: %dx%d, %d detections", id, info.Width, info.Height, len(dets))

	if !a.table.HasSky(dets) {
		if extra := a.sky.Detect(frame); len(extra) > 0 {
			a.logger.Printf("analysis %s: sky found by color", id)
			dets = append(dets, extra...)
		}
	}

	sel := a.classifier.Classify(dets)

	res = &Result{
		ID:         id,
		Info:       info,
		Detections: dets,
		Selection:  sel,
	}
	for _, cat := range types.Categories() {
		cr := a.place(frame, cat, sel[cat], info.Width, info.Height)
		a.logger.Printf("analysis %s: %s -> %s (%d,%d)", id, cat, cr.Source, cr.PixelCoords.X, cr.PixelCoords.Y)
		res.Report.Set(cat, cr)
	}
	return res, nil
}

// place computes the result for one category
func (a *Analyzer) place(frame *vision.Frame, cat types.Category, best *types.Detection, width, height int) types.CategoryResult {
	source := SourceFallback
	var (
		confidence float64
		px, py     int
		vec        r3.Vec
		inField    bool
	)

	if best != nil {
		source = SourceModel
		confidence = best.Confidence

		switch {
		case cat == types.Crop:
			loc := a.locator.Locate(frame, *best)
			px, py = loc.X, loc.Y
			source = SourceModel + "-" + string(loc.Status)
		default:
			px, py = int(best.X), int(best.Y)
			if cat == types.Sky && confidence == vision.SkyFallbackConfidence {
				source = SourceColor
			}
		}

		vec, inField = a.projector.Project(float64(px), float64(py), width, height)
	}

	if !inField {
		vec = a.table.Fallback(cat)
		if !strings.Contains(source, SourceFallback) {
			source += SuffixOutOfLens
		}
	}

	pos := fisheye.ToRender(vec, a.config.RenderRadius)
	return types.CategoryResult{
		Detected:       confidence > 0,
		Source:         source,
		Confidence:     confidence,
		PixelCoords:    types.Point{X: px, Y: py},
		AFramePosition: types.Vector{X: pos.X, Y: pos.Y, Z: pos.Z},
	}
}
