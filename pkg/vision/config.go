package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// HSVRange is an inclusive range in OpenCV HSV space
type HSVRange struct {
	Lower [3]float64 `json:"lower"`
	Upper [3]float64 `json:"upper"`
}

func (r HSVRange) scalars() (gocv.Scalar, gocv.Scalar) {
	return gocv.NewScalar(r.Lower[0], r.Lower[1], r.Lower[2], 0),
		gocv.NewScalar(r.Upper[0], r.Upper[1], r.Upper[2], 0)
}

// VegetationGreen is the color range treated as live vegetation
var VegetationGreen = HSVRange{
	Lower: [3]float64{30, 40, 40},
	Upper: [3]float64{90, 255, 255},
}

// SkyBlue is the color range treated as open sky
var SkyBlue = HSVRange{
	Lower: [3]float64{85, 30, 100},
	Upper: [3]float64{135, 255, 255},
}

// Config holds the color-analysis parameters
type Config struct {
	Green HSVRange
	Sky   HSVRange

	BlurKernel  int     // odd size of the Gaussian kernel applied to an ROI
	SampleSize  int     // side of the window sampled at the ROI center
	SampleRatio float64 // share of green pixels needed to accept the center

	MorphKernel     int // side of the rectangular opening kernel
	GreenIterations int // opening iterations for the vegetation mask
	SkyIterations   int // opening iterations for the sky mask

	MinGreenArea float64 // px², exclusive
	MinSkyArea   float64 // px², exclusive
	SkyHorizon   float64 // rows at or below this fraction of the height are never sky
}

// DefaultConfig returns the production parameters
func DefaultConfig() Config {
	return Config{
		Green:           VegetationGreen,
		Sky:             SkyBlue,
		BlurKernel:      5,
		SampleSize:      5,
		SampleRatio:     0.5,
		MorphKernel:     5,
		GreenIterations: 2,
		SkyIterations:   1,
		MinGreenArea:    50,
		MinSkyArea:      3000,
		SkyHorizon:      0.5,
	}
}

// openMask removes speckle noise: erosion then dilation, each repeated
// iterations times, with a square kernel.
func openMask(mask *gocv.Mat, size, iterations int) {
	if iterations <= 0 || size <= 0 {
		return
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(size, size))
	defer kernel.Close()

	for i := 0; i < iterations; i++ {
		gocv.Erode(*mask, mask, kernel)
	}
	for i := 0; i < iterations; i++ {
		gocv.Dilate(*mask, mask, kernel)
	}
}
