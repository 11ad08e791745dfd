package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// ErrMissingBand is returned when a cube lacks a band an index needs
var ErrMissingBand = errors.New("missing band")

// Cube holds Sentinel-2 L2A reflectance bands for one scene. Mask is
// optional; cells where it is 0 carry no data.
type Cube struct {
	Date string
	B03  *mat.Dense // green
	B04  *mat.Dense // red
	B05  *mat.Dense // red edge
	B08  *mat.Dense // near infrared
	Mask *mat.Dense
}

// CubeSource supplies band cubes. A satellite archive client would sit
// behind this; FileSource reads exported cubes from disk.
type CubeSource interface {
	Cube(ctx context.Context) (*Cube, error)
}

// Index computes a normalized-difference index by name
func (c *Cube) Index(name string) (*mat.Dense, error) {
	var a, b *mat.Dense
	switch name {
	case "NDVI":
		a, b = c.B08, c.B04
	case "NDWI":
		a, b = c.B03, c.B08
	case "NDRE":
		a, b = c.B08, c.B05
	case "GNDVI":
		a, b = c.B08, c.B03
	default:
		return nil, fmt.Errorf("unknown index %q", name)
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w for %s", ErrMissingBand, name)
	}
	return normalizedDifference(a, b, c.Mask)
}

// normalizedDifference returns (a-b)/(a+b) per cell, NaN where masked out
// or where the sum is zero
func normalizedDifference(a, b, mask *mat.Dense) (*mat.Dense, error) {
	rows, cols := a.Dims()
	if br, bc := b.Dims(); br != rows || bc != cols {
		return nil, fmt.Errorf("band size mismatch: %dx%d vs %dx%d", rows, cols, br, bc)
	}
	if mask != nil {
		if mr, mc := mask.Dims(); mr != rows || mc != cols {
			return nil, fmt.Errorf("mask size mismatch: %dx%d vs %dx%d", rows, cols, mr, mc)
		}
	}

	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		if mask != nil && mask.At(i, j) == 0 {
			return math.NaN()
		}
		x, y := a.At(i, j), b.At(i, j)
		sum := x + y
		if sum == 0 {
			return math.NaN()
		}
		return (x - y) / sum
	}, out)
	return out, nil
}

// RenderCube renders every index in order
func RenderCube(c *Cube, indices []IndexConfig) ([]Layer, error) {
	layers := make([]Layer, 0, len(indices))
	for _, cfg := range indices {
		m, err := c.Index(cfg.Name)
		if err != nil {
			return nil, err
		}
		layer, err := RenderLayer(m, cfg)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// FileSource reads a cube exported as JSON:
//
//	{"date": "2024-05-01", "bands": {"B03": [[...]], "B04": ..., "dataMask": ...}}
//
// null cells decode as NaN.
type FileSource struct {
	Path string
}

type cubeFile struct {
	Date  string                  `json:"date"`
	Bands map[string][][]*float64 `json:"bands"`
}

// Cube implements CubeSource
func (s FileSource) Cube(ctx context.Context) (*Cube, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cube: %w", err)
	}
	defer f.Close()

	var doc cubeFile
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse cube: %w", err)
	}

	cube := &Cube{Date: doc.Date}
	targets := map[string]**mat.Dense{
		"B03": &cube.B03, "B04": &cube.B04, "B05": &cube.B05, "B08": &cube.B08,
		"dataMask": &cube.Mask,
	}
	for name, dst := range targets {
		rows, ok := doc.Bands[name]
		if !ok {
			continue
		}
		m, err := denseFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", name, err)
		}
		*dst = m
	}
	return cube, nil
}

// ReadMatrix decodes a single raster written as a JSON array of rows
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	var rows [][]*float64
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse raster: %w", err)
	}
	return denseFromRows(rows)
}

func denseFromRows(rows [][]*float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyRaster
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), cols)
		}
		for _, v := range row {
			if v == nil {
				data = append(data, math.NaN())
				continue
			}
			data = append(data, *v)
		}
	}
	return mat.NewDense(len(rows), cols, data), nil
}
