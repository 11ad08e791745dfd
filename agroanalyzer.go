// Package agroanalyzer places sky, soil and crop markers in 360° field
// panoramas.
//
// A panorama is a dual-fisheye frame: the left half is the front lens and the
// right half the rear lens. An object detector finds candidates, color
// analysis refines crop points onto visible vegetation and fills in sky the
// detector missed, and each chosen pixel is projected to a direction a
// WebXR viewer can place a marker on.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//		"log"
//		"os"
//
//		agroanalyzer "github.com/menta2k/agro-analyzer"
//		"github.com/menta2k/agro-analyzer/pkg/roboflow"
//	)
//
//	func main() {
//		detector, err := roboflow.NewClient(roboflow.Config{APIKey: os.Getenv(roboflow.APIKeyEnv)})
//		if err != nil {
//			log.Fatal(err)
//		}
//		aa := agroanalyzer.New(detector)
//
//		data, err := os.ReadFile("pano.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// {"sky": {...}, "soil": {...}, "crop": {...}} or {"error": "..."}
//		json.NewEncoder(os.Stdout).Encode(aa.Outcome(context.Background(), data))
//	}
//
// The package consists of these components:
//
// 1. Analyzer (pkg/analyzer): the per-image pipeline
// 2. Vision (pkg/vision): vegetation and sky color analysis
// 3. Fisheye (pkg/fisheye): pixel to view-direction projection
// 4. Overlay (pkg/overlay): vegetation index map layers
//
// Detectors live in pkg/roboflow (hosted inference) and pkg/detection, which
// drives vision language models served by pkg/ollama or pkg/llamacpp.
package agroanalyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/menta2k/agro-analyzer/internal/utils"
	"github.com/menta2k/agro-analyzer/pkg/analyzer"
	"github.com/menta2k/agro-analyzer/pkg/category"
	"github.com/menta2k/agro-analyzer/pkg/client"
	"github.com/menta2k/agro-analyzer/pkg/overlay"
	"github.com/menta2k/agro-analyzer/pkg/processing"
	"github.com/menta2k/agro-analyzer/pkg/types"
)

// Version of the agro analyzer library
const Version = "1.0.0"

// thumbnailZoom is the share of the largest fitting square a thumbnail covers
const thumbnailZoom = 0.25

// CategoryColors are used for debug overlays
var CategoryColors = map[types.Category]color.NRGBA{
	types.Sky:  {0, 160, 255, 255},
	types.Soil: {200, 120, 40, 255},
	types.Crop: {0, 220, 0, 255},
}

// AgroAnalyzer provides a high-level interface for panorama analysis
type AgroAnalyzer struct {
	analyzer  *analyzer.Analyzer
	processor *processing.Processor
	table     *category.Table
}

// New creates a new AgroAnalyzer with default configuration
func New(detector client.Detector) *AgroAnalyzer {
	return NewWithConfig(detector, analyzer.DefaultConfig())
}

// NewWithConfig creates a new AgroAnalyzer with custom configuration
func NewWithConfig(detector client.Detector, config analyzer.Config) *AgroAnalyzer {
	table := category.DefaultTable()
	return &AgroAnalyzer{
		analyzer:  analyzer.NewWithConfig(detector, config, table),
		processor: processing.NewProcessor(),
		table:     table,
	}
}

// SetLogger replaces the pipeline logger; nil silences it
func (aa *AgroAnalyzer) SetLogger(l *log.Logger) {
	aa.analyzer.SetLogger(l)
}

// Read loads encoded image bytes from a file path or an http(s) URL
func (aa *AgroAnalyzer) Read(source string) ([]byte, error) {
	return aa.processor.ReadSource(source)
}

// LoadImage reads and decodes an image from a file path or URL
func (aa *AgroAnalyzer) LoadImage(source string) (image.Image, error) {
	data, err := aa.Read(source)
	if err != nil {
		return nil, err
	}
	img, err := aa.processor.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analyzer.ErrDecode, err)
	}
	return img, nil
}

// Analyze runs the pipeline on encoded image bytes
func (aa *AgroAnalyzer) Analyze(ctx context.Context, data []byte) (*analyzer.Result, error) {
	return aa.analyzer.Analyze(ctx, data)
}

// AnalyzeImage runs the pipeline on a decoded image
func (aa *AgroAnalyzer) AnalyzeImage(ctx context.Context, img image.Image) (*analyzer.Result, error) {
	return aa.analyzer.AnalyzeImage(ctx, img)
}

// Outcome runs the pipeline and returns the client-facing document
func (aa *AgroAnalyzer) Outcome(ctx context.Context, data []byte) types.Outcome {
	return aa.analyzer.Outcome(ctx, data)
}

// ProcessResult describes one processed source
type ProcessResult struct {
	Source  string
	Result  *analyzer.Result // nil when analysis failed
	Outcome types.Outcome
	Files   []string
}

// ProcessSource analyzes a file or URL and writes the report, plus the
// debug overlay and thumbnails when requested, into opts.OutputDir. A
// failed analysis still writes an error report; the returned error is
// reserved for I/O problems.
func (aa *AgroAnalyzer) ProcessSource(ctx context.Context, source string, opts types.ProcessingOptions) (*ProcessResult, error) {
	if err := utils.EnsureDir(opts.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	out := &ProcessResult{Source: source}

	img, err := aa.LoadImage(source)
	if err == nil {
		out.Result, err = aa.AnalyzeImage(ctx, img)
	}
	if err != nil {
		out.Outcome = types.Outcome{Error: err.Error()}
	} else {
		out.Outcome = types.Outcome{Report: &out.Result.Report}
	}

	reportPath := utils.GenerateOutputFilename(source, opts.OutputDir, "", opts.Suffix, "json")
	if err := writeJSON(reportPath, out.Outcome); err != nil {
		return out, err
	}
	out.Files = append(out.Files, reportPath)

	if out.Result == nil {
		return out, nil
	}

	format := opts.Format
	if format == "" {
		format = "jpg"
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = 90
	}

	if opts.DebugOverlay {
		path := utils.GenerateOutputFilename(source, opts.OutputDir, "", "_debug", format)
		if err := aa.processor.SaveImage(aa.DebugOverlay(img, out.Result), path, format, quality, false); err != nil {
			return out, fmt.Errorf("failed to save debug overlay: %w", err)
		}
		out.Files = append(out.Files, path)
	}

	if opts.ThumbnailSize > 0 {
		thumbs, err := aa.Thumbnails(img, out.Result, opts.ThumbnailSize)
		if err != nil {
			return out, err
		}
		for _, cat := range types.Categories() {
			thumb, ok := thumbs[cat]
			if !ok {
				continue
			}
			path := utils.GenerateOutputFilename(source, opts.OutputDir, "", "_"+string(cat), format)
			if err := aa.processor.SaveImage(thumb, path, format, quality, false); err != nil {
				return out, fmt.Errorf("failed to save %s thumbnail: %w", cat, err)
			}
			out.Files = append(out.Files, path)
		}
	}

	return out, nil
}

// DebugOverlay draws every detection box in its category color, plus the
// pixel chosen for each category. Points that fell outside the lens are
// drawn as an X.
func (aa *AgroAnalyzer) DebugOverlay(img image.Image, res *analyzer.Result) image.Image {
	marks := make([]processing.Mark, 0, len(res.Detections)+3)
	for i := range res.Detections {
		d := res.Detections[i]
		marks = append(marks, processing.Mark{Box: &d, Color: CategoryColors[aa.table.Of(d.Class)]})
	}
	for _, cat := range types.Categories() {
		cr := res.Report.Get(cat)
		if !cr.Detected {
			continue
		}
		pt := image.Pt(cr.PixelCoords.X, cr.PixelCoords.Y)
		marks = append(marks, processing.Mark{
			Point:    &pt,
			Color:    CategoryColors[cat],
			Rejected: strings.HasSuffix(cr.Source, analyzer.SuffixOutOfLens),
		})
	}
	return aa.processor.CreateDebugOverlay(img, marks)
}

// Thumbnails cuts a square preview around each category's chosen pixel.
// Categories without a usable pixel are skipped.
func (aa *AgroAnalyzer) Thumbnails(img image.Image, res *analyzer.Result, size int) (map[types.Category]image.Image, error) {
	thumbs := make(map[types.Category]image.Image)
	for _, cat := range types.Categories() {
		cr := res.Report.Get(cat)
		if !cr.Detected || strings.HasSuffix(cr.Source, analyzer.SuffixOutOfLens) {
			continue
		}
		thumb, err := aa.processor.Thumbnail(img, cr.PixelCoords.X, cr.PixelCoords.Y, size, thumbnailZoom)
		if err != nil {
			return nil, fmt.Errorf("failed to cut %s thumbnail: %w", cat, err)
		}
		thumbs[cat] = thumb
	}
	return thumbs, nil
}

// RenderIndex renders a single vegetation index raster as a map layer
func RenderIndex(m mat.Matrix, index string) (overlay.Layer, error) {
	cfg, ok := overlay.IndexByName(index)
	if !ok {
		return overlay.Layer{}, fmt.Errorf("unknown index %q", index)
	}
	return overlay.RenderLayer(m, cfg)
}

// FieldLayers is the set of index layers for one scene
type FieldLayers struct {
	Date   string          `json:"date"`
	Layers []overlay.Layer `json:"layers"`
}

// RenderField renders every default index from a band cube
func RenderField(ctx context.Context, src overlay.CubeSource) (*FieldLayers, error) {
	cube, err := src.Cube(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cube: %w", err)
	}
	layers, err := overlay.RenderCube(cube, overlay.DefaultIndices())
	if err != nil {
		return nil, err
	}
	return &FieldLayers{Date: cube.Date, Layers: layers}, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
