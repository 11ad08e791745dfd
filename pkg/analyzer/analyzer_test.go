package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/agro-analyzer/pkg/client"
	"github.com/menta2k/agro-analyzer/pkg/types"
)

var (
	skyBlue   = color.RGBA{135, 206, 235, 255}
	soilBrown = color.RGBA{139, 90, 43, 255}
	leafGreen = color.RGBA{34, 139, 34, 255}
	gray      = color.RGBA{128, 128, 128, 255}
)

// createFieldImage builds a 400x200 dual-fisheye frame: sky over the top
// half, bare soil below, and a green crop patch at (60..99, 120..159).
func createFieldImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			c := soilBrown
			switch {
			case y < 100:
				c = skyBlue
			case x >= 60 && x < 100 && y >= 120 && y < 160:
				c = leafGreen
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func createUniformImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

// fakeDetector returns fixed detections and counts calls
type fakeDetector struct {
	dets  []types.Detection
	err   error
	calls int
	conf  float64
}

func (f *fakeDetector) Predict(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error) {
	f.calls++
	f.conf = confidence
	return f.dets, f.err
}

func newQuietAnalyzer(d client.Detector) *Analyzer {
	a := New(d)
	a.SetLogger(nil)
	return a
}

func TestAnalyzeUndecodable(t *testing.T) {
	fake := &fakeDetector{}
	a := newQuietAnalyzer(fake)

	_, err := a.Analyze(context.Background(), []byte("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("Expected detector not to be called, got %d calls", fake.calls)
	}

	out := a.Outcome(context.Background(), nil)
	if out.Error == "" || out.Report != nil {
		t.Errorf("Expected error outcome, got %+v", out)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"error":`) {
		t.Errorf("Expected error object, got %s", raw)
	}
}

func TestAnalyzeNoDetections(t *testing.T) {
	fake := &fakeDetector{}
	a := newQuietAnalyzer(fake)

	res, err := a.Analyze(context.Background(), encodePNG(t, createUniformImage(gray)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if fake.calls != 1 || fake.conf != DefaultMinConfig {
		t.Errorf("Expected one call with confidence %v, got %d calls with %v", DefaultMinConfig, fake.calls, fake.conf)
	}

	want := types.Report{
		Sky: types.CategoryResult{
			Source:         SourceFallback,
			AFramePosition: types.Vector{X: 0, Y: 7.071, Z: -7.071},
		},
		Soil: types.CategoryResult{
			Source:         SourceFallback,
			AFramePosition: types.Vector{X: 0, Y: -8, Z: -6},
		},
		Crop: types.CategoryResult{
			Source:         SourceFallback,
			AFramePosition: types.Vector{X: 0, Y: -5, Z: -8.66},
		},
	}
	if diff := cmp.Diff(want, res.Report); diff != "" {
		t.Errorf("Report mismatch (-want +got):\n%s", diff)
	}
	if res.ID == "" {
		t.Error("Expected an analysis ID")
	}
}

func TestAnalyzeFieldScene(t *testing.T) {
	fake := &fakeDetector{dets: []types.Detection{
		// center lands on bare soil next to the green patch
		{Class: "Corn", Confidence: 0.7, X: 130, Y: 140, Width: 100, Height: 60},
		{Class: "soil", Confidence: 0.5, X: 300, Y: 150, Width: 80, Height: 40},
		{Class: "soil", Confidence: 0.3, X: 100, Y: 190, Width: 80, Height: 20},
	}}
	a := newQuietAnalyzer(fake)

	res, err := a.Analyze(context.Background(), encodePNG(t, createFieldImage()))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	wantSoil := types.CategoryResult{
		Detected:       true,
		Source:         SourceModel,
		Confidence:     0.5,
		PixelCoords:    types.Point{X: 300, Y: 150},
		AFramePosition: types.Vector{X: 0, Y: -5, Z: 8.66},
	}
	if diff := cmp.Diff(wantSoil, res.Report.Soil); diff != "" {
		t.Errorf("Soil mismatch (-want +got):\n%s", diff)
	}

	crop := res.Report.Crop
	if crop.Source != "IA-MOVED-TO-GREEN" || !crop.Detected || crop.Confidence != 0.7 {
		t.Errorf("unexpected crop result: %+v", crop)
	}
	if !image.Pt(crop.PixelCoords.X, crop.PixelCoords.Y).In(image.Rect(80, 115, 105, 165)) {
		t.Errorf("Expected crop moved onto the green patch, got %+v", crop.PixelCoords)
	}
	// front lens, below the horizon: renderer z points away from the camera
	if crop.AFramePosition.Y >= 0 || crop.AFramePosition.Z >= 0 {
		t.Errorf("Expected crop below and in front, got %+v", crop.AFramePosition)
	}

	// No sky from the detector, so the color fallback supplies one. Its
	// bounding box spans both lenses and its center falls outside the rear
	// lens circle.
	sky := res.Report.Sky
	if sky.Source != SourceColor+SuffixOutOfLens || sky.Confidence != 0.99 || !sky.Detected {
		t.Errorf("unexpected sky result: %+v", sky)
	}
	if diff := cmp.Diff(types.Vector{X: 0, Y: 7.071, Z: -7.071}, sky.AFramePosition); diff != "" {
		t.Errorf("Sky position mismatch (-want +got):\n%s", diff)
	}
	if len(res.Detections) != 4 {
		t.Errorf("Expected synthesized sky to be appended, got %d detections", len(res.Detections))
	}
}

func TestAnalyzeCropCenterOK(t *testing.T) {
	fake := &fakeDetector{dets: []types.Detection{
		{Class: "maize", Confidence: 0.4, X: 80, Y: 140, Width: 30, Height: 30},
		{Class: "SKY", Confidence: 0.9, X: 100, Y: 60, Width: 100, Height: 40},
	}}
	a := newQuietAnalyzer(fake)

	res, err := a.Analyze(context.Background(), encodePNG(t, createFieldImage()))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	crop := res.Report.Crop
	if crop.Source != "IA-CENTER-OK" || crop.PixelCoords != (types.Point{X: 80, Y: 140}) {
		t.Errorf("unexpected crop result: %+v", crop)
	}

	// the model reported sky, so no color fallback is added
	if len(res.Detections) != 2 {
		t.Errorf("Expected no synthesized sky, got %d detections", len(res.Detections))
	}
	wantSky := types.CategoryResult{
		Detected:       true,
		Source:         SourceModel,
		Confidence:     0.9,
		PixelCoords:    types.Point{X: 100, Y: 60},
		AFramePosition: types.Vector{X: 0, Y: 4, Z: -9.165},
	}
	if diff := cmp.Diff(wantSky, res.Report.Sky); diff != "" {
		t.Errorf("Sky mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeOutOfLens(t *testing.T) {
	fake := &fakeDetector{dets: []types.Detection{
		// corner of the frame, outside both lens circles
		{Class: "ground", Confidence: 0.6, X: 2, Y: 198, Width: 4, Height: 4},
	}}
	a := newQuietAnalyzer(fake)

	res, err := a.Analyze(context.Background(), encodePNG(t, createUniformImage(gray)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	want := types.CategoryResult{
		Detected:       true,
		Source:         SourceModel + SuffixOutOfLens,
		Confidence:     0.6,
		PixelCoords:    types.Point{X: 2, Y: 198},
		AFramePosition: types.Vector{X: 0, Y: -8, Z: -6},
	}
	if diff := cmp.Diff(want, res.Report.Soil); diff != "" {
		t.Errorf("Soil mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeDetectorError(t *testing.T) {
	fake := &fakeDetector{err: errors.New("service unavailable")}
	a := newQuietAnalyzer(fake)

	data := encodePNG(t, createUniformImage(gray))
	if _, err := a.Analyze(context.Background(), data); err == nil {
		t.Fatal("Expected detector error to propagate")
	}
	out := a.Outcome(context.Background(), data)
	if !strings.Contains(out.Error, "service unavailable") {
		t.Errorf("Expected detector error in outcome, got %q", out.Error)
	}
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	d := client.DetectorFunc(func(ctx context.Context, img image.Image, confidence float64) ([]types.Detection, error) {
		panic("detector exploded")
	})
	a := newQuietAnalyzer(d)

	_, err := a.AnalyzeImage(context.Background(), createUniformImage(gray))
	if err == nil || !strings.Contains(err.Error(), "detector exploded") {
		t.Errorf("Expected recovered panic, got %v", err)
	}
}

func TestAnalyzeRecoversDecoderPanic(t *testing.T) {
	fake := &fakeDetector{}
	a := newQuietAnalyzer(fake)
	a.decode = func([]byte) (image.Image, error) {
		panic("decoder exploded")
	}

	_, err := a.Analyze(context.Background(), []byte("RIFF"))
	if !errors.Is(err, ErrDecode) || !strings.Contains(err.Error(), "decoder exploded") {
		t.Errorf("Expected ErrDecode from recovered panic, got %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("Expected detector not to be called, got %d calls", fake.calls)
	}

	out := a.Outcome(context.Background(), []byte("RIFF"))
	if out.Error == "" || out.Report != nil {
		t.Errorf("Expected error outcome, got %+v", out)
	}
}

func TestAnalyzeNoDetector(t *testing.T) {
	a := newQuietAnalyzer(nil)
	if _, err := a.AnalyzeImage(context.Background(), createUniformImage(gray)); !errors.Is(err, ErrNoDetector) {
		t.Errorf("Expected ErrNoDetector, got %v", err)
	}
}

func TestOutcomeJSON(t *testing.T) {
	a := newQuietAnalyzer(&fakeDetector{})
	out := a.Outcome(context.Background(), encodePNG(t, createUniformImage(gray)))
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"sky", "soil", "crop"} {
		entry, ok := doc[key]
		if !ok {
			t.Fatalf("missing %q in %s", key, raw)
		}
		for _, field := range []string{"detected", "source", "confidence", "pixel_coords", "aframe_position"} {
			if _, ok := entry[field]; !ok {
				t.Errorf("missing %s.%s", key, field)
			}
		}
	}
}

func TestGetImageInfo(t *testing.T) {
	info := GetImageInfo(image.NewRGBA(image.Rect(0, 0, 400, 200)))
	want := ImageInfo{Width: 400, Height: 200, AspectRatio: 2, Area: 80000}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("GetImageInfo mismatch (-want +got):\n%s", diff)
	}
}
