package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/agro-analyzer/pkg/analyzer"
	"github.com/menta2k/agro-analyzer/pkg/fisheye"
	"github.com/menta2k/agro-analyzer/pkg/roboflow"
	"github.com/menta2k/agro-analyzer/pkg/vision"
)

// Detector backends
const (
	BackendRoboflow = "roboflow"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Detector   DetectorConfig   `json:"detector"`
	Vision     VisionConfig     `json:"vision"`
	Projection ProjectionConfig `json:"projection"`
	Output     OutputConfig     `json:"output"`
}

// DetectorConfig selects and tunes the object detector
type DetectorConfig struct {
	Backend        string  `json:"backend"`
	URL            string  `json:"url"`
	Model          string  `json:"model"`
	APIKeyEnv      string  `json:"api_key_env"`
	Confidence     float64 `json:"confidence"`
	MaxDim         int     `json:"max_dim"`
	Format         string  `json:"format"`
	Quality        int     `json:"quality"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// VisionConfig holds the color-analysis parameters
type VisionConfig struct {
	Green           vision.HSVRange `json:"green"`
	Sky             vision.HSVRange `json:"sky"`
	BlurKernel      int             `json:"blur_kernel"`
	SampleSize      int             `json:"sample_size"`
	SampleRatio     float64         `json:"sample_ratio"`
	MorphKernel     int             `json:"morph_kernel"`
	GreenIterations int             `json:"green_iterations"`
	SkyIterations   int             `json:"sky_iterations"`
	MinGreenArea    float64         `json:"min_green_area"`
	MinSkyArea      float64         `json:"min_sky_area"`
	SkyHorizon      float64         `json:"sky_horizon"`
}

// ProjectionConfig holds the fisheye and viewer settings
type ProjectionConfig struct {
	RenderRadius   float64 `json:"render_radius"`
	MirrorRearLens bool    `json:"mirror_rear_lens"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir     string `json:"output_dir"`
	DebugOverlay  bool   `json:"debug_overlay"`
	DebugFormat   string `json:"debug_format"`
	Quality       int    `json:"quality"`
	ThumbnailSize int    `json:"thumbnail_size"`
	Suffix        string `json:"suffix"`
}

// Default returns a configuration with default values
func Default() *Config {
	v := vision.DefaultConfig()
	p := fisheye.DefaultConfig()
	return &Config{
		Detector: DetectorConfig{
			Backend:        BackendRoboflow,
			URL:            roboflow.DefaultURL,
			Model:          roboflow.DefaultModel,
			APIKeyEnv:      roboflow.APIKeyEnv,
			Confidence:     analyzer.DefaultMinConfig,
			MaxDim:         1536,
			Format:         "jpg",
			Quality:        85,
			TimeoutSeconds: 120,
		},
		Vision: VisionConfig{
			Green:           v.Green,
			Sky:             v.Sky,
			BlurKernel:      v.BlurKernel,
			SampleSize:      v.SampleSize,
			SampleRatio:     v.SampleRatio,
			MorphKernel:     v.MorphKernel,
			GreenIterations: v.GreenIterations,
			SkyIterations:   v.SkyIterations,
			MinGreenArea:    v.MinGreenArea,
			MinSkyArea:      v.MinSkyArea,
			SkyHorizon:      v.SkyHorizon,
		},
		Projection: ProjectionConfig{
			RenderRadius:   p.RenderRadius,
			MirrorRearLens: p.MirrorRearLens,
		},
		Output: OutputConfig{
			OutputDir:     "./output",
			DebugFormat:   "jpg",
			Quality:       90,
			ThumbnailSize: 0,
			Suffix:        "_analysis",
		},
	}
}

// AnalyzerConfig converts the file settings into pipeline parameters
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		Confidence:   c.Detector.Confidence,
		RenderRadius: c.Projection.RenderRadius,
		Vision: vision.Config{
			Green:           c.Vision.Green,
			Sky:             c.Vision.Sky,
			BlurKernel:      c.Vision.BlurKernel,
			SampleSize:      c.Vision.SampleSize,
			SampleRatio:     c.Vision.SampleRatio,
			MorphKernel:     c.Vision.MorphKernel,
			GreenIterations: c.Vision.GreenIterations,
			SkyIterations:   c.Vision.SkyIterations,
			MinGreenArea:    c.Vision.MinGreenArea,
			MinSkyArea:      c.Vision.MinSkyArea,
			SkyHorizon:      c.Vision.SkyHorizon,
		},
		Projection: fisheye.Config{
			MirrorRearLens: c.Projection.MirrorRearLens,
			RenderRadius:   c.Projection.RenderRadius,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing keys keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Detector.Backend {
	case BackendRoboflow, BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("detector.backend must be one of %s, %s, %s", BackendRoboflow, BackendOllama, BackendLlamaCpp)
	}

	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be between 0 and 1")
	}

	if c.Detector.Quality < 1 || c.Detector.Quality > 100 {
		return fmt.Errorf("detector.quality must be between 1 and 100")
	}

	if c.Vision.BlurKernel < 1 || c.Vision.BlurKernel%2 == 0 {
		return fmt.Errorf("vision.blur_kernel must be a positive odd number")
	}

	if c.Vision.SampleRatio < 0 || c.Vision.SampleRatio > 1 {
		return fmt.Errorf("vision.sample_ratio must be between 0 and 1")
	}

	if c.Vision.SkyHorizon <= 0 || c.Vision.SkyHorizon > 1 {
		return fmt.Errorf("vision.sky_horizon must be in (0, 1]")
	}

	for name, r := range map[string]vision.HSVRange{"green": c.Vision.Green, "sky": c.Vision.Sky} {
		for i := range r.Lower {
			if r.Lower[i] > r.Upper[i] {
				return fmt.Errorf("vision.%s lower bound exceeds upper bound", name)
			}
		}
	}

	if c.Projection.RenderRadius <= 0 {
		return fmt.Errorf("projection.render_radius must be positive")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Output.ThumbnailSize < 0 {
		return fmt.Errorf("output.thumbnail_size cannot be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "agro-analyzer", "config.json")
}
