package types

import "encoding/json"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is a single object reported by a detector. X and Y are the
// center of the bounding box in pixels.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Category is one of the semantic buckets a detection can fall into
type Category string

const (
	Sky  Category = "sky"
	Soil Category = "soil"
	Crop Category = "crop"
)

// Categories returns the categories in report order
func Categories() []Category {
	return []Category{Sky, Soil, Crop}
}

// Point is an integer pixel coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Vector is a 3D position in viewer space
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// CategoryResult is the placement computed for one category
type CategoryResult struct {
	Detected       bool    `json:"detected"`
	Source         string  `json:"source"`
	Confidence     float64 `json:"confidence"`
	PixelCoords    Point   `json:"pixel_coords"`
	AFramePosition Vector  `json:"aframe_position"`
}

// Report holds one result per category
type Report struct {
	Sky  CategoryResult `json:"sky"`
	Soil CategoryResult `json:"soil"`
	Crop CategoryResult `json:"crop"`
}

// Get returns the result for a category
func (r *Report) Get(c Category) CategoryResult {
	switch c {
	case Sky:
		return r.Sky
	case Soil:
		return r.Soil
	default:
		return r.Crop
	}
}

// Set stores the result for a category
func (r *Report) Set(c Category, res CategoryResult) {
	switch c {
	case Sky:
		r.Sky = res
	case Soil:
		r.Soil = res
	default:
		r.Crop = res
	}
}

// Outcome is what gets returned to callers for a single analysis: either a
// report or an error message, never both.
type Outcome struct {
	Report *Report
	Error  string
}

// MarshalJSON renders {"error": "..."} on failure and the bare report otherwise
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Error != "" || o.Report == nil {
		msg := o.Error
		if msg == "" {
			msg = "no result"
		}
		return json.Marshal(struct {
			Error string `json:"error"`
		}{msg})
	}
	return json.Marshal(o.Report)
}

// DetectionResponse is the JSON document a vision model is asked to return
type DetectionResponse struct {
	Detections  []ModelDetection `json:"detections"`
	Description string           `json:"description"`
}

// ModelDetection is a detection in normalized coordinates as produced by a vision model
type ModelDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ProcessingOptions controls which artifacts are written next to a report
type ProcessingOptions struct {
	OutputDir     string
	Suffix        string // appended to the report name
	DebugOverlay  bool
	ThumbnailSize int    // 0 disables per-category thumbnails
	Format        string // image format for debug output: jpg, png or webp
	Quality       int
}
