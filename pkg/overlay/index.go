// Package overlay renders vegetation index rasters as transparent PNG map
// layers with matching legends.
package overlay

import "strings"

// IndexConfig describes how one vegetation index is colored and labeled
type IndexConfig struct {
	Name     string
	Colormap string
	Min      float64
	Max      float64
	Labels   []string
}

// DefaultIndices returns the indices produced from a Sentinel-2 band cube,
// in layer order
func DefaultIndices() []IndexConfig {
	return []IndexConfig{
		{Name: "NDVI", Colormap: "RdYlGn", Min: 0, Max: 1,
			Labels: []string{"Suelo", "Bajo", "Medio", "Alto", "Muy Alto"}},
		{Name: "NDWI", Colormap: "RdYlBu", Min: -1, Max: 1,
			Labels: []string{"Muy Seco", "Seco", "Neutro", "Húmedo", "Agua"}},
		{Name: "NDRE", Colormap: "RdYlGn", Min: 0, Max: 0.8,
			Labels: []string{"Bajo", "Medio-Bajo", "Medio", "Alto", "Muy Alto"}},
		{Name: "GNDVI", Colormap: "RdYlGn", Min: 0, Max: 1,
			Labels: []string{"Bajo", "Medio-Bajo", "Medio", "Alto", "Muy Alto"}},
	}
}

// IndexByName looks up a default index, ignoring case
func IndexByName(name string) (IndexConfig, bool) {
	for _, cfg := range DefaultIndices() {
		if strings.EqualFold(cfg.Name, name) {
			return cfg, true
		}
	}
	return IndexConfig{}, false
}
