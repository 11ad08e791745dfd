// Package category sorts detector output into sky, soil and crop buckets.
package category

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

// SkyFallbackLabel is the class assigned to detections synthesized from sky color
const SkyFallbackLabel = "sky-fallback"

// Entry describes one category: the detector labels that map to it and the
// direction used when no usable pixel is available.
type Entry struct {
	Category types.Category
	Labels   map[string]struct{}
	Fallback r3.Vec
}

// Table is the static category configuration. Build it once with
// DefaultTable and share it by pointer; it is never mutated.
type Table struct {
	entries []Entry
	byLabel map[string]types.Category
	dflt    types.Category
}

// DefaultTable returns the production label table. Anything not listed is crop.
//
// The fallback directions are fixed guesses (sky up-forward, soil and crop
// below-forward), not estimates derived from the frame.
func DefaultTable() *Table {
	return NewTable(types.Crop,
		Entry{
			Category: types.Sky,
			Labels:   labelSet("sky", "cielo", "cloud", "clouds", SkyFallbackLabel),
			Fallback: r3.Vec{X: 0, Y: 0.7071, Z: 0.7071},
		},
		Entry{
			Category: types.Soil,
			Labels:   labelSet("field-soil", "unused-land", "soil", "land", "ground", "dirt"),
			Fallback: r3.Vec{X: 0, Y: -0.8, Z: 0.6},
		},
		Entry{
			Category: types.Crop,
			Fallback: r3.Vec{X: 0, Y: -0.5, Z: 0.866},
		},
	)
}

// NewTable builds a table from entries. Labels are matched case-insensitively;
// unmatched labels fall into dflt.
func NewTable(dflt types.Category, entries ...Entry) *Table {
	t := &Table{
		entries: make([]Entry, len(entries)),
		byLabel: make(map[string]types.Category),
		dflt:    dflt,
	}
	copy(t.entries, entries)
	for _, s := range entries {
		for label := range s.Labels {
			t.byLabel[strings.ToLower(label)] = s.Category
		}
	}
	return t
}

func labelSet(labels ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// Of returns the category for a detector label
func (t *Table) Of(label string) types.Category {
	if c, ok := t.byLabel[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return t.dflt
}

// Fallback returns the fallback direction for a category
func (t *Table) Fallback(c types.Category) r3.Vec {
	for _, s := range t.entries {
		if s.Category == c {
			return s.Fallback
		}
	}
	return r3.Vec{Z: 1}
}

// HasSky reports whether any detection already claims a sky label
func (t *Table) HasSky(dets []types.Detection) bool {
	for _, d := range dets {
		if t.Of(d.Class) == types.Sky {
			return true
		}
	}
	return false
}

// Selection maps each category to its best detection, or nil
type Selection map[types.Category]*types.Detection

// Classifier keeps the most confident detection per category
type Classifier struct {
	table *Table
}

// NewClassifier creates a classifier over a table
func NewClassifier(table *Table) *Classifier {
	return &Classifier{table: table}
}

// Classify returns the highest-confidence detection of every category. A
// detection replaces the current best only with strictly higher confidence,
// so ties keep the first one seen. Zero-confidence detections never win.
func (c *Classifier) Classify(dets []types.Detection) Selection {
	sel := make(Selection, 3)
	best := make(map[types.Category]float64, 3)
	for _, cat := range types.Categories() {
		sel[cat] = nil
	}

	for i := range dets {
		d := dets[i]
		cat := c.table.Of(d.Class)
		if d.Confidence > best[cat] {
			best[cat] = d.Confidence
			sel[cat] = &d
		}
	}
	return sel
}
