package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	agroanalyzer "github.com/menta2k/agro-analyzer"
	"github.com/menta2k/agro-analyzer/internal/config"
	"github.com/menta2k/agro-analyzer/internal/utils"
	"github.com/menta2k/agro-analyzer/pkg/overlay"
	"github.com/menta2k/agro-analyzer/pkg/types"
)

func main() {
	var in, outDir, configPath, saveConfig string
	var backend, url, model string
	var raster, index, cube string
	var debug, probe bool
	var thumb, workers int
	var dbgext string
	var dbgquality int
	var sendFmt string
	var sendSize, sendQ int

	flag.StringVar(&in, "in", "", "input panorama: file, URL or directory of images")
	flag.StringVar(&outDir, "out", "", "output directory (default from config)")
	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/agro-analyzer/config.json if present)")
	flag.StringVar(&saveConfig, "save-config", "", "write the effective configuration to this path and exit")

	flag.StringVar(&backend, "backend", "", "detector backend: roboflow, ollama or llamacpp")
	flag.StringVar(&url, "url", "", "detector server URL")
	flag.StringVar(&model, "model", "", "detector model (roboflow project/version or vision model name)")

	flag.StringVar(&sendFmt, "sendfmt", "", "format sent to vision models: jpg|png")
	flag.IntVar(&sendSize, "sendsize", -1, "max long side sent to the detector (px), 0=original")
	flag.IntVar(&sendQ, "sendq", 0, "JPEG quality of the image sent to the detector (1-100)")

	flag.BoolVar(&debug, "debug", false, "write a debug overlay per image")
	flag.IntVar(&thumb, "thumb", -1, "write per-category thumbnails of this size (px), 0=off")
	flag.StringVar(&dbgext, "dbgext", "", "debug image format: png|jpg|webp")
	flag.IntVar(&dbgquality, "dbgquality", 0, "debug image quality (for jpg/webp)")
	flag.BoolVar(&probe, "probe", false, "ask the vision model to describe the input and exit")
	flag.IntVar(&workers, "workers", 2, "images analyzed concurrently in directory mode")

	flag.StringVar(&raster, "raster", "", "render an index raster (JSON array of rows) instead of analyzing")
	flag.StringVar(&index, "index", "NDVI", "index used with -raster: NDVI, NDWI, NDRE or GNDVI")
	flag.StringVar(&cube, "cube", "", "render all index layers from a band cube JSON file")

	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.OutputDir = outDir
		case "backend":
			cfg.Detector.Backend = backend
		case "url":
			cfg.Detector.URL = url
		case "model":
			cfg.Detector.Model = model
		case "sendfmt":
			cfg.Detector.Format = sendFmt
		case "sendsize":
			cfg.Detector.MaxDim = sendSize
		case "sendq":
			cfg.Detector.Quality = sendQ
		case "debug":
			cfg.Output.DebugOverlay = debug
		case "thumb":
			cfg.Output.ThumbnailSize = thumb
		case "dbgext":
			cfg.Output.DebugFormat = dbgext
		case "dbgquality":
			cfg.Output.Quality = dbgquality
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", saveConfig)
		return
	}

	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	if raster != "" || cube != "" {
		if err := renderLayers(ctx, raster, index, cube, cfg.Output.OutputDir); err != nil {
			log.Fatal(err)
		}
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in pano.jpg|URL|dir [-backend roboflow|ollama|llamacpp] [-url server_url] [-model name] [-out outdir] [-debug] [-thumb 256]\n"+
			"       %s -raster ndvi.json [-index NDVI] | -cube cube.json [-out outdir]",
			filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
	}

	detector, vd, err := newDetector(cfg.Detector)
	if err != nil {
		log.Fatal(err)
	}
	aa := agroanalyzer.NewWithConfig(detector, cfg.AnalyzerConfig())

	if probe {
		if vd == nil {
			log.Fatalf("-probe needs a vision model backend, not %s", cfg.Detector.Backend)
		}
		img, err := aa.LoadImage(in)
		if err != nil {
			log.Fatal(err)
		}
		desc, err := vd.TestVision(ctx, img)
		if err != nil {
			log.Fatalf("probe failed: %v", err)
		}
		fmt.Println(desc)
		return
	}

	sources := []string{in}
	if !utils.IsURL(in) && utils.DirExists(in) {
		sources, err = utils.ListImageFiles(in)
		if err != nil {
			log.Fatal(err)
		}
		if len(sources) == 0 {
			log.Fatalf("no images found in %s", in)
		}
		log.Printf("found %d images in %s", len(sources), in)
	}

	opts := types.ProcessingOptions{
		OutputDir:     cfg.Output.OutputDir,
		Suffix:        cfg.Output.Suffix,
		DebugOverlay:  cfg.Output.DebugOverlay,
		ThumbnailSize: cfg.Output.ThumbnailSize,
		Format:        strings.ToLower(cfg.Output.DebugFormat),
		Quality:       cfg.Output.Quality,
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, src := range sources {
		g.Go(func() error {
			res, err := aa.ProcessSource(gctx, src, opts)
			if err != nil {
				log.Printf("%s: %v", src, err)
				failed.Add(1)
				return nil
			}
			if res.Outcome.Error != "" {
				log.Printf("%s: analysis failed: %s", src, res.Outcome.Error)
				failed.Add(1)
			}
			for _, f := range res.Files {
				logWritten(f)
			}

			// A single input also goes to stdout for piping
			if len(sources) == 1 {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Outcome)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}

	if n := failed.Load(); n > 0 {
		log.Printf("%d of %d images failed", n, len(sources))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if def := config.GetConfigPath(); utils.FileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded config %s", path)
	return cfg, nil
}

func renderLayers(ctx context.Context, raster, index, cube, outDir string) error {
	if raster != "" {
		f, err := os.Open(raster)
		if err != nil {
			return err
		}
		m, err := overlay.ReadMatrix(f)
		f.Close()
		if err != nil {
			return err
		}
		layer, err := agroanalyzer.RenderIndex(m, index)
		if err != nil {
			return err
		}
		path := utils.GenerateOutputFilename(raster, outDir, "", "_"+strings.ToLower(layer.Type), "layer.json")
		if err := writeJSON(path, layer); err != nil {
			return err
		}
		logWritten(path)
	}

	if cube != "" {
		field, err := agroanalyzer.RenderField(ctx, overlay.FileSource{Path: cube})
		if err != nil {
			return err
		}
		path := utils.GenerateOutputFilename(cube, outDir, "", "_layers", "json")
		if err := writeJSON(path, field); err != nil {
			return err
		}
		log.Printf("wrote %s (%d layers, %s)", path, len(field.Layers), field.Date)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func logWritten(path string) {
	if st, err := os.Stat(path); err == nil {
		log.Printf("wrote %s (%s)", path, utils.FormatFileSize(st.Size()))
		return
	}
	log.Printf("wrote %s", path)
}
