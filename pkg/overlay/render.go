package overlay

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownColormap is returned for schemes ColorBrewer does not define
	ErrUnknownColormap = errors.New("unknown colormap")
	// ErrEmptyRaster is returned when there is nothing to render
	ErrEmptyRaster = errors.New("empty raster")
	// ErrBadRange is returned when an index has Max <= Min
	ErrBadRange = errors.New("invalid value range")
)

// LegendItem is one swatch of a legend
type LegendItem struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
	Label string  `json:"label"`
}

// Legend describes how to read a rendered layer
type Legend struct {
	Title   string       `json:"title"`
	Min     float64      `json:"min"`
	Max     float64      `json:"max"`
	Palette []LegendItem `json:"palette"`
}

// Layer is a rendered index ready for a map client
type Layer struct {
	Type      string `json:"type"`
	ImageData string `json:"image_data"`
	Legend    Legend `json:"legend"`
}

func checkRange(cfg IndexConfig) error {
	if !(cfg.Max > cfg.Min) {
		return fmt.Errorf("%w: %s [%g, %g]", ErrBadRange, cfg.Name, cfg.Min, cfg.Max)
	}
	return nil
}

// Render colors m (rows are image rows). Values are normalized to
// [cfg.Min, cfg.Max] and clipped; NaN cells become fully transparent.
func Render(m mat.Matrix, cfg IndexConfig) (*image.NRGBA, error) {
	if err := checkRange(cfg); err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, ErrEmptyRaster
	}
	cmap, err := NewColormap(cfg.Colormap)
	if err != nil {
		return nil, err
	}

	span := cfg.Max - cfg.Min
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := m.At(y, x)
			if math.IsNaN(v) {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			img.SetNRGBA(x, y, cmap.At((v-cfg.Min)/span))
		}
	}
	return img, nil
}

// BuildLegend spreads one swatch per label evenly over the index range
func BuildLegend(cfg IndexConfig) (Legend, error) {
	if err := checkRange(cfg); err != nil {
		return Legend{}, err
	}
	cmap, err := NewColormap(cfg.Colormap)
	if err != nil {
		return Legend{}, err
	}

	legend := Legend{
		Title:   "Índice " + cfg.Name,
		Min:     cfg.Min,
		Max:     cfg.Max,
		Palette: make([]LegendItem, 0, len(cfg.Labels)),
	}
	steps := len(cfg.Labels)
	for i, label := range cfg.Labels {
		t := 0.0
		if steps > 1 {
			t = float64(i) / float64(steps-1)
		}
		legend.Palette = append(legend.Palette, LegendItem{
			Value: math.Round((cfg.Min+t*(cfg.Max-cfg.Min))*100) / 100,
			Color: Hex(cmap.At(t)),
			Label: label,
		})
	}
	return legend, nil
}

// EncodeDataURL encodes img as a PNG data URL
func EncodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RenderLayer renders m and attaches its legend
func RenderLayer(m mat.Matrix, cfg IndexConfig) (Layer, error) {
	img, err := Render(m, cfg)
	if err != nil {
		return Layer{}, fmt.Errorf("render %s: %w", cfg.Name, err)
	}
	data, err := EncodeDataURL(img)
	if err != nil {
		return Layer{}, err
	}
	legend, err := BuildLegend(cfg)
	if err != nil {
		return Layer{}, err
	}
	return Layer{Type: cfg.Name, ImageData: data, Legend: legend}, nil
}
