package vision

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when an image has no pixels
var ErrEmptyFrame = errors.New("empty frame")

// Frame is a decoded image held as an OpenCV BGR matrix. A Frame belongs to
// a single analysis and must be closed when the analysis ends.
type Frame struct {
	mat gocv.Mat
}

// NewFrame converts a Go image into a BGR frame. Alpha is dropped.
func NewFrame(img image.Image) (*Frame, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, ErrEmptyFrame
	}

	// Clone anchors the pixels at the origin with straight alpha. Viewing
	// them as RGBA lets gocv take its packed conversion path, and the alpha
	// byte is discarded there.
	src := imaging.Clone(img)
	packed := &image.RGBA{Pix: src.Pix, Stride: src.Stride, Rect: src.Rect}

	m, err := gocv.ImageToMatRGB(packed)
	if err != nil {
		return nil, fmt.Errorf("failed to build frame: %w", err)
	}
	return &Frame{mat: m}, nil
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.mat.Cols()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.mat.Rows()
}

// Bounds returns the frame rectangle
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width(), f.Height())
}

// Close releases the underlying matrix
func (f *Frame) Close() error {
	return f.mat.Close()
}

// toHSV converts a BGR matrix to OpenCV HSV (H 0-179, S and V 0-255)
func toHSV(bgr gocv.Mat) (gocv.Mat, error) {
	hsv := gocv.NewMat()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)
	if hsv.Empty() {
		hsv.Close()
		return gocv.NewMat(), errors.New("hsv conversion produced an empty matrix")
	}
	return hsv, nil
}
