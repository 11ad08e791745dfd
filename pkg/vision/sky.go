package vision

import (
	"errors"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/menta2k/agro-analyzer/pkg/category"
	"github.com/menta2k/agro-analyzer/pkg/types"
)

const (
	// SkyFallbackClass labels detections synthesized from sky color
	SkyFallbackClass = category.SkyFallbackLabel
	// SkyFallbackConfidence is the fixed confidence of a synthesized sky detection
	SkyFallbackConfidence = 0.99
)

// SkyDetector finds open sky by color when the detector reported none
type SkyDetector struct {
	config Config
	find   func(f *Frame) (image.Rectangle, bool, error)
}

// NewSkyDetector creates a SkyDetector with default parameters
func NewSkyDetector() *SkyDetector {
	return NewSkyDetectorWithConfig(DefaultConfig())
}

// NewSkyDetectorWithConfig creates a SkyDetector with custom parameters
func NewSkyDetectorWithConfig(config Config) *SkyDetector {
	d := &SkyDetector{config: config}
	d.find = d.largestSkyRegion
	return d
}

// Detect returns at most one synthesized sky detection covering the largest
// sky-colored region of the upper part of the frame. It returns nil when
// nothing qualifies or the analysis fails.
func (d *SkyDetector) Detect(f *Frame) []types.Detection {
	rect, ok, err := d.find(f)
	if err != nil || !ok {
		return nil
	}

	return []types.Detection{{
		Class:      SkyFallbackClass,
		Confidence: SkyFallbackConfidence,
		X:          float64(rect.Min.X) + float64(rect.Dx())/2,
		Y:          float64(rect.Min.Y) + float64(rect.Dy())/2,
		Width:      float64(rect.Dx()),
		Height:     float64(rect.Dy()),
	}}
}

func (d *SkyDetector) largestSkyRegion(f *Frame) (image.Rectangle, bool, error) {
	hsv, err := toHSV(f.mat)
	if err != nil {
		return image.Rectangle{}, false, err
	}
	defer hsv.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	lower, upper := d.config.Sky.scalars()
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)
	if mask.Empty() {
		return image.Rectangle{}, false, errors.New("sky mask is empty")
	}

	openMask(&mask, d.config.MorphKernel, d.config.SkyIterations)

	// Sky never sits in the lower part of the frame.
	w, h := mask.Cols(), mask.Rows()
	horizon := int(float64(h) * d.config.SkyHorizon)
	if horizon < h {
		below := mask.Region(image.Rect(0, max(0, horizon), w, h))
		below.SetTo(gocv.NewScalar(0, 0, 0, 0))
		below.Close()
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type candidate struct {
		idx  int
		area float64
	}
	candidates := make([]candidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		candidates = append(candidates, candidate{i, gocv.ContourArea(contours.At(i))})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].area > candidates[j].area
	})

	for _, c := range candidates {
		if c.area > d.config.MinSkyArea {
			return gocv.BoundingRect(contours.At(c.idx)), true, nil
		}
	}
	return image.Rectangle{}, false, nil
}
