package main

import (
	"fmt"
	"os"
	"time"

	"github.com/menta2k/agro-analyzer/internal/config"
	"github.com/menta2k/agro-analyzer/pkg/client"
	"github.com/menta2k/agro-analyzer/pkg/detection"
	"github.com/menta2k/agro-analyzer/pkg/llamacpp"
	"github.com/menta2k/agro-analyzer/pkg/ollama"
	"github.com/menta2k/agro-analyzer/pkg/roboflow"
)

const defaultOllamaURL = "http://localhost:11435/api/chat"

// newDetector builds the detector selected by cfg. The second return value
// is set for vision-model backends, which support a connectivity probe.
func newDetector(cfg config.DetectorConfig) (client.Detector, *detection.VisionDetector, error) {
	url := cfg.URL
	if cfg.Backend != config.BackendRoboflow && url == roboflow.DefaultURL {
		url = ""
	}

	switch cfg.Backend {
	case config.BackendRoboflow:
		key := os.Getenv(cfg.APIKeyEnv)
		c, err := roboflow.NewClient(roboflow.Config{
			BaseURL: url,
			Model:   cfg.Model,
			APIKey:  key,
			MaxDim:  cfg.MaxDim,
			Quality: cfg.Quality,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Roboflow client (set %s): %w", cfg.APIKeyEnv, err)
		}
		return c, nil, nil

	case config.BackendOllama, config.BackendLlamaCpp:
		var (
			vc  client.VisionClient
			err error
		)
		if cfg.Backend == config.BackendOllama {
			if url == "" {
				url = defaultOllamaURL
			}
			vc, err = ollama.NewClient(url)
		} else {
			vc, err = llamacpp.NewClient(url)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
		}

		model := cfg.Model
		if model == roboflow.DefaultModel {
			model = "openbmb/minicpm-v4.5"
		}
		opts := detection.DefaultOptions(model)
		opts.Format = cfg.Format
		opts.MaxDim = cfg.MaxDim
		opts.Quality = cfg.Quality
		vd := detection.NewDetector(vc, opts)
		return vd, vd, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend: %s (use %s, %s or %s)",
			cfg.Backend, config.BackendRoboflow, config.BackendOllama, config.BackendLlamaCpp)
	}
}
