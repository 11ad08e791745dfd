package overlay

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot/palette/brewer"
)

// paletteSize is the largest class count ColorBrewer offers for diverging schemes
const paletteSize = 11

// Colormap maps [0,1] onto a continuous color ramp built from a
// ColorBrewer scheme
type Colormap struct {
	name  string
	stops []color.NRGBA
}

// NewColormap loads a ColorBrewer scheme such as "RdYlGn"
func NewColormap(name string) (*Colormap, error) {
	p, err := brewer.GetPalette(brewer.TypeAny, name, paletteSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownColormap, name, err)
	}

	colors := p.Colors()
	stops := make([]color.NRGBA, len(colors))
	for i, c := range colors {
		stops[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	if len(stops) < 2 {
		return nil, fmt.Errorf("%w: %s has %d colors", ErrUnknownColormap, name, len(stops))
	}
	return &Colormap{name: name, stops: stops}, nil
}

// At returns the color for t, clamped to [0,1]
func (c *Colormap) At(t float64) color.NRGBA {
	if math.IsNaN(t) || t <= 0 {
		return c.stops[0]
	}
	last := len(c.stops) - 1
	if t >= 1 {
		return c.stops[last]
	}

	pos := t * float64(last)
	i := int(pos)
	frac := pos - float64(i)
	a, b := c.stops[i], c.stops[i+1]
	return color.NRGBA{
		R: lerp(a.R, b.R, frac),
		G: lerp(a.G, b.G, frac),
		B: lerp(a.B, b.B, frac),
		A: 255,
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// Hex formats a color as #rrggbb
func Hex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
