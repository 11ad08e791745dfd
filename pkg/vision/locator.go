package vision

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

// Status explains how a Location was chosen
type Status string

const (
	StatusCenterOK     Status = "CENTER-OK"
	StatusMovedToGreen Status = "MOVED-TO-GREEN"
	StatusNoGreen      Status = "NO-GREEN-FOUND"
	StatusEmptyROI     Status = "ERR-ROI"
	StatusError        Status = "ERR-EXC"
)

// Location is a refined pixel position inside a detection box
type Location struct {
	X      int
	Y      int
	Status Status
}

// scan is the per-call state shared by the strategies: the clipped ROI and
// its blurred HSV rendition.
type scan struct {
	roi    image.Rectangle
	hsv    gocv.Mat
	origin image.Point
}

func (s *scan) close() {
	s.hsv.Close()
}

// strategy returns a definitive Location with ok=true, or ok=false when it
// has no answer and the next strategy should run.
type strategy func(s *scan) (loc Location, ok bool, err error)

// Locator moves a detection's center onto the vegetation it most likely
// belongs to. Strategies run in order; the first definitive answer wins.
type Locator struct {
	config     Config
	strategies []strategy
}

// NewLocator creates a Locator with default parameters
func NewLocator() *Locator {
	return NewLocatorWithConfig(DefaultConfig())
}

// NewLocatorWithConfig creates a Locator with custom parameters
func NewLocatorWithConfig(config Config) *Locator {
	l := &Locator{config: config}
	l.strategies = []strategy{l.centerSample, l.largestGreenMass}
	return l
}

// ClipBox converts a center/size box to a pixel rectangle clipped to a
// width x height frame. Coordinates are truncated toward zero.
func ClipBox(box types.Detection, width, height int) image.Rectangle {
	x0 := max(0, int(box.X-box.Width/2))
	y0 := max(0, int(box.Y-box.Height/2))
	x1 := min(width, int(box.X+box.Width/2))
	y1 := min(height, int(box.Y+box.Height/2))
	return image.Rectangle{Min: image.Pt(x0, y0), Max: image.Pt(x1, y1)}
}

// Locate returns the most representative vegetation pixel of box. It never
// fails: problems are reported through the returned Status and the box's
// own center is used.
func (l *Locator) Locate(f *Frame, box types.Detection) Location {
	origin := Location{X: int(box.X), Y: int(box.Y)}

	roi := ClipBox(box, f.Width(), f.Height())
	if roi.Empty() {
		origin.Status = StatusEmptyROI
		return origin
	}

	s, err := l.newScan(f, roi, image.Pt(origin.X, origin.Y))
	if err != nil {
		origin.Status = StatusError
		return origin
	}
	defer s.close()

	for _, try := range l.strategies {
		loc, ok, err := try(s)
		if err != nil {
			origin.Status = StatusError
			return origin
		}
		if ok {
			return loc
		}
	}

	origin.Status = StatusNoGreen
	return origin
}

func (l *Locator) newScan(f *Frame, roi image.Rectangle, origin image.Point) (*scan, error) {
	region := f.mat.Region(roi)
	defer region.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := l.config.BlurKernel
	if k > 0 {
		// Isolated keeps pixels outside the box out of the blur
		gocv.GaussianBlur(region, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault|gocv.BorderIsolated)
	} else {
		region.CopyTo(&blurred)
	}
	if blurred.Empty() {
		return nil, errors.New("blurred roi is empty")
	}

	hsv, err := toHSV(blurred)
	if err != nil {
		return nil, err
	}
	return &scan{roi: roi, hsv: hsv, origin: origin}, nil
}

// centerSample accepts the box center when most of a small window around
// the ROI center is already vegetation.
func (l *Locator) centerSample(s *scan) (Location, bool, error) {
	rows, cols := s.hsv.Rows(), s.hsv.Cols()
	cx, cy := cols/2, rows/2
	half := l.config.SampleSize / 2

	window := image.Rect(
		max(0, cx-half), max(0, cy-half),
		min(cols, cx+half+1), min(rows, cy+half+1),
	)
	total := window.Dx() * window.Dy()
	if total <= 0 {
		return Location{}, false, nil
	}

	sample := s.hsv.Region(window)
	defer sample.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	lower, upper := l.config.Green.scalars()
	gocv.InRangeWithScalar(sample, lower, upper, &mask)

	if float64(gocv.CountNonZero(mask)) > float64(total)*l.config.SampleRatio {
		return Location{X: s.origin.X, Y: s.origin.Y, Status: StatusCenterOK}, true, nil
	}
	return Location{}, false, nil
}

// largestGreenMass finds the biggest connected vegetation region in the ROI
// and returns its centroid.
func (l *Locator) largestGreenMass(s *scan) (Location, bool, error) {
	mask := gocv.NewMat()
	defer mask.Close()
	lower, upper := l.config.Green.scalars()
	gocv.InRangeWithScalar(s.hsv, lower, upper, &mask)
	if mask.Empty() {
		return Location{}, false, errors.New("vegetation mask is empty")
	}

	openMask(&mask, l.config.MorphKernel, l.config.GreenIterations)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 || bestArea <= l.config.MinGreenArea {
		return Location{}, false, nil
	}

	cx, cy, ok := polygonCentroid(contours.At(best).ToPoints())
	if !ok {
		return Location{}, false, nil
	}

	return Location{
		X:      s.roi.Min.X + int(cx),
		Y:      s.roi.Min.Y + int(cy),
		Status: StatusMovedToGreen,
	}, true, nil
}

// polygonCentroid returns the area centroid of a closed polygon from its
// first-order moments. ok is false for degenerate (zero-area) polygons.
func polygonCentroid(pts []image.Point) (cx, cy float64, ok bool) {
	if len(pts) < 3 {
		return 0, 0, false
	}

	var m00, m10, m01 float64
	for i := range pts {
		p, q := pts[i], pts[(i+1)%len(pts)]
		xi, yi := float64(p.X), float64(p.Y)
		xj, yj := float64(q.X), float64(q.Y)
		a := xi*yj - xj*yi
		m00 += a
		m10 += a * (xi + xj)
		m01 += a * (yi + yj)
	}
	if m00 == 0 {
		return 0, 0, false
	}

	// m00 carries a factor of 2 and m10/m01 a factor of 6
	m00 /= 2
	return m10 / 6 / m00, m01 / 6 / m00, true
}
