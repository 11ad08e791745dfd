package vision

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

var (
	forestGreen = color.RGBA{34, 139, 34, 255}
	skyBlue     = color.RGBA{135, 206, 235, 255}
	gray        = color.RGBA{128, 128, 128, 255}
	soilBrown   = color.RGBA{120, 85, 60, 255}
)

// createTestImage fills an image with bg and paints rect with fg
func createTestImage(width, height int, bg color.Color, rect image.Rectangle, fg color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if image.Pt(x, y).In(rect) {
				img.Set(x, y, fg)
			} else {
				img.Set(x, y, bg)
			}
		}
	}
	return img
}

func newTestFrame(t *testing.T, img image.Image) *Frame {
	t.Helper()
	f, err := NewFrame(img)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestNewFrame(t *testing.T) {
	f := newTestFrame(t, createTestImage(120, 80, gray, image.Rectangle{}, gray))
	if f.Width() != 120 || f.Height() != 80 {
		t.Errorf("Expected 120x80 frame, got %dx%d", f.Width(), f.Height())
	}
	if f.Bounds() != image.Rect(0, 0, 120, 80) {
		t.Errorf("unexpected bounds %v", f.Bounds())
	}
}

func TestNewFrameChannelOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(10, 10, 14, 13))
	for y := 10; y < 13; y++ {
		for x := 10; x < 14; x++ {
			img.SetNRGBA(x, y, color.NRGBA{200, 100, 50, 128})
		}
	}
	f := newTestFrame(t, img)

	if f.Width() != 4 || f.Height() != 3 {
		t.Fatalf("Expected 4x3 frame, got %dx%d", f.Width(), f.Height())
	}
	px := f.mat.GetVecbAt(2, 3)
	if len(px) != 3 || px[0] != 50 || px[1] != 100 || px[2] != 200 {
		t.Errorf("Expected BGR [50 100 200] with alpha dropped, got %v", px)
	}
}

func TestNewFrameEmpty(t *testing.T) {
	if _, err := NewFrame(image.NewRGBA(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("Expected error for empty image")
	}
}

func TestClipBox(t *testing.T) {
	tests := []struct {
		name string
		box  types.Detection
		want image.Rectangle
	}{
		{"inside", types.Detection{X: 50, Y: 50, Width: 20, Height: 10}, image.Rect(40, 45, 60, 55)},
		{"clipped", types.Detection{X: 5, Y: 95, Width: 20, Height: 20}, image.Rect(0, 85, 15, 100)},
		{"truncated", types.Detection{X: 10.9, Y: 10.9, Width: 3, Height: 3}, image.Rect(9, 9, 12, 12)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClipBox(tt.box, 100, 100); got != tt.want {
				t.Errorf("ClipBox = %v, want %v", got, tt.want)
			}
		})
	}

	outside := ClipBox(types.Detection{X: -100, Y: 50, Width: 20, Height: 20}, 100, 100)
	if !outside.Empty() {
		t.Errorf("Expected box left of the frame to be empty, got %v", outside)
	}
}

func TestLocateCenterOK(t *testing.T) {
	img := createTestImage(60, 60, forestGreen, image.Rectangle{}, forestGreen)
	f := newTestFrame(t, img)

	loc := NewLocator().Locate(f, types.Detection{X: 30, Y: 30, Width: 40, Height: 40})

	if loc.Status != StatusCenterOK {
		t.Fatalf("Expected %s, got %s", StatusCenterOK, loc.Status)
	}
	if loc.X != 30 || loc.Y != 30 {
		t.Errorf("Expected unchanged center (30,30), got (%d,%d)", loc.X, loc.Y)
	}
}

func TestLocateMovedToGreen(t *testing.T) {
	green := image.Rect(12, 12, 40, 40)
	img := createTestImage(100, 100, gray, green, forestGreen)
	f := newTestFrame(t, img)

	box := types.Detection{X: 50, Y: 50, Width: 80, Height: 80}
	loc := NewLocator().Locate(f, box)

	if loc.Status != StatusMovedToGreen {
		t.Fatalf("Expected %s, got %s", StatusMovedToGreen, loc.Status)
	}
	if !image.Pt(loc.X, loc.Y).In(green) {
		t.Errorf("Expected point inside green region %v, got (%d,%d)", green, loc.X, loc.Y)
	}
	if !image.Pt(loc.X, loc.Y).In(ClipBox(box, 100, 100)) {
		t.Errorf("Expected point inside the box, got (%d,%d)", loc.X, loc.Y)
	}
}

func TestLocateNoGreen(t *testing.T) {
	img := createTestImage(100, 100, gray, image.Rectangle{}, gray)
	f := newTestFrame(t, img)

	loc := NewLocator().Locate(f, types.Detection{X: 50.7, Y: 40.2, Width: 60, Height: 60})
	if loc.Status != StatusNoGreen {
		t.Fatalf("Expected %s, got %s", StatusNoGreen, loc.Status)
	}
	if loc.X != 50 || loc.Y != 40 {
		t.Errorf("Expected original center (50,40), got (%d,%d)", loc.X, loc.Y)
	}
}

func TestLocateSpeckIgnored(t *testing.T) {
	// A 4x4 green speck disappears under the opening.
	img := createTestImage(100, 100, gray, image.Rect(20, 20, 24, 24), forestGreen)
	f := newTestFrame(t, img)

	loc := NewLocator().Locate(f, types.Detection{X: 50, Y: 50, Width: 80, Height: 80})
	if loc.Status != StatusNoGreen {
		t.Errorf("Expected speck to be ignored, got %s at (%d,%d)", loc.Status, loc.X, loc.Y)
	}
}

func TestLocateEmptyROI(t *testing.T) {
	img := createTestImage(50, 50, forestGreen, image.Rectangle{}, forestGreen)
	f := newTestFrame(t, img)

	loc := NewLocator().Locate(f, types.Detection{X: 25, Y: 25, Width: 0, Height: 10})
	if loc.Status != StatusEmptyROI {
		t.Fatalf("Expected %s, got %s", StatusEmptyROI, loc.Status)
	}
	if loc.X != 25 || loc.Y != 25 {
		t.Errorf("Expected original center, got (%d,%d)", loc.X, loc.Y)
	}
}

func TestPolygonCentroid(t *testing.T) {
	square := []image.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	cx, cy, ok := polygonCentroid(square)
	if !ok || cx != 5 || cy != 5 {
		t.Errorf("Expected (5,5), got (%f,%f,%v)", cx, cy, ok)
	}

	// Winding order does not matter.
	reversed := []image.Point{{0, 10}, {10, 10}, {10, 0}, {0, 0}}
	cx, cy, ok = polygonCentroid(reversed)
	if !ok || cx != 5 || cy != 5 {
		t.Errorf("Expected (5,5) for reversed polygon, got (%f,%f,%v)", cx, cy, ok)
	}

	if _, _, ok := polygonCentroid([]image.Point{{0, 0}, {5, 5}, {10, 10}}); ok {
		t.Error("Expected collinear points to be degenerate")
	}
}

func TestLocateStrategyError(t *testing.T) {
	img := createTestImage(100, 100, forestGreen, image.Rectangle{}, forestGreen)
	f := newTestFrame(t, img)

	l := NewLocator()
	l.strategies = []strategy{func(*scan) (Location, bool, error) {
		return Location{}, false, errors.New("contour analysis failed")
	}}

	loc := l.Locate(f, types.Detection{X: 50.7, Y: 40.9, Width: 20, Height: 20})
	if loc.Status != StatusError {
		t.Fatalf("Expected %s, got %s", StatusError, loc.Status)
	}
	if loc.X != 50 || loc.Y != 40 {
		t.Errorf("Expected truncated original center (50,40), got (%d,%d)", loc.X, loc.Y)
	}
}

func TestScanBlurStaysInsideBox(t *testing.T) {
	img := createTestImage(60, 60, forestGreen, image.Rect(20, 20, 40, 40), gray)
	f := newTestFrame(t, img)

	roi := image.Rect(20, 20, 40, 40)
	s, err := NewLocator().newScan(f, roi, image.Pt(30, 30))
	if err != nil {
		t.Fatalf("newScan failed: %v", err)
	}
	defer s.close()

	// Gray is H=0 S=0 V=128; any green bleeding in would add saturation.
	for _, p := range []image.Point{{0, 0}, {19, 0}, {0, 19}, {19, 19}, {10, 10}} {
		px := s.hsv.GetVecbAt(p.Y, p.X)
		if px[1] != 0 || px[2] != 128 {
			t.Errorf("Expected unblended gray at ROI %v, got HSV %v", p, px)
		}
	}
}

func TestSkyDetect(t *testing.T) {
	img := createTestImage(200, 100, soilBrown, image.Rect(0, 0, 200, 50), skyBlue)
	f := newTestFrame(t, img)

	dets := NewSkyDetector().Detect(f)
	if len(dets) != 1 {
		t.Fatalf("Expected one sky detection, got %d", len(dets))
	}

	d := dets[0]
	if d.Class != SkyFallbackClass || d.Confidence != SkyFallbackConfidence {
		t.Errorf("unexpected detection label/confidence: %+v", d)
	}
	if d.Y >= 50 {
		t.Errorf("Expected sky center in the upper half, got y=%f", d.Y)
	}
	if d.Width < 150 {
		t.Errorf("Expected sky to span most of the width, got %f", d.Width)
	}
}

func TestSkyDetectIgnoresLowerHalf(t *testing.T) {
	img := createTestImage(200, 100, soilBrown, image.Rect(0, 50, 200, 100), skyBlue)
	f := newTestFrame(t, img)

	if dets := NewSkyDetector().Detect(f); len(dets) != 0 {
		t.Errorf("Expected no sky below the horizon, got %+v", dets)
	}
}

func TestSkyDetectTooSmall(t *testing.T) {
	img := createTestImage(200, 100, soilBrown, image.Rect(10, 5, 40, 35), skyBlue)
	f := newTestFrame(t, img)

	if dets := NewSkyDetector().Detect(f); len(dets) != 0 {
		t.Errorf("Expected 30x30 patch to be below the area threshold, got %+v", dets)
	}
}

func TestSkyDetectFailure(t *testing.T) {
	img := createTestImage(200, 100, soilBrown, image.Rect(0, 0, 200, 50), skyBlue)
	f := newTestFrame(t, img)

	d := NewSkyDetector()
	d.find = func(*Frame) (image.Rectangle, bool, error) {
		return image.Rect(0, 0, 200, 50), true, errors.New("segmentation failed")
	}
	if dets := d.Detect(f); dets != nil {
		t.Errorf("Expected no detections when analysis fails, got %+v", dets)
	}
}
