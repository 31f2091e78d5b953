package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golangast/egodepth/internal/config"
	"github.com/golangast/egodepth/internal/modeldata"
	"github.com/golangast/egodepth/internal/sqlite_db"
	"github.com/golangast/egodepth/neural/depth"
	"github.com/golangast/egodepth/neural/imageio"
	"github.com/golangast/egodepth/neural/nn"
)

var (
	configPath = flag.String("config", "config.json", "Path to the JSON model config")
	modelDir   = flag.String("models", "", "Directory holding depth.gob; empty keeps the initial weights")
	imagePath  = flag.String("image", "", "Input image")
	outDir     = flag.String("out", "disparity", "Directory for the per-scale disparity PNGs")
	dbPath     = flag.String("db", "", "Optional SQLite file that logs depth summaries")
)

var overrides config.Overrides

func main() {
	flag.Var(&overrides, "set", "Config override key=value (repeatable)")
	flag.Parse()
	if *imagePath == "" {
		log.Fatalf("No input image provided. Use -image <path>.")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg, err = cfg.Apply(overrides); err != nil {
		log.Fatalf("Invalid config override: %v", err)
	}
	models, err := modeldata.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build models: %v", err)
	}
	defer models.Close()
	if *modelDir != "" {
		if err := models.LoadDepth(filepath.Join(*modelDir, modeldata.DepthFile)); err != nil {
			log.Fatalf("Failed to load depth checkpoint: %v", err)
		}
	}
	nn.Freeze(models.Depth)

	res := cfg.Resolution()
	input, err := imageio.Load(*imagePath, res.Width, res.Height)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}

	start := time.Now()
	disps, err := models.Depth.Forward(input)
	if err != nil {
		log.Fatalf("Depth forward pass failed: %v", err)
	}
	log.Printf("Predicted %d scales at %dx%d in %s", len(disps), res.Height, res.Width, time.Since(start))

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	var records []sqlite_db.DepthRecord
	for scale, disp := range disps {
		_, d, err := depth.DispToDepth(disp, cfg.MinDepth, cfg.MaxDepth)
		if err != nil {
			log.Fatalf("Failed to convert disparity: %v", err)
		}
		lo, hi, mean := summary(d.Data)
		fmt.Printf("scale %d: %dx%d depth min %.3f max %.3f mean %.3f\n", scale, d.Shape[2], d.Shape[3], lo, hi, mean)
		records = append(records, sqlite_db.DepthRecord{Image: *imagePath, Scale: scale, Height: d.Shape[2], Width: d.Shape[3], Min: lo, Max: hi, Mean: mean})

		img, err := imageio.DisparityImage(disp, 0)
		if err != nil {
			log.Fatalf("Failed to render disparity: %v", err)
		}
		out := filepath.Join(*outDir, fmt.Sprintf("disp_scale%d.png", scale))
		if err := imageio.SavePNG(img, out); err != nil {
			log.Fatalf("Failed to save disparity: %v", err)
		}
		log.Printf("Wrote %s", out)
	}

	if *dbPath != "" {
		run, err := sqlite_db.LogRun(*dbPath, "predict_depth", cfg, func(db *sql.DB, runID string) error {
			for _, r := range records {
				r.RunID = runID
				if err := sqlite_db.InsertDepth(db, r); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Fatalf("Failed to log depth summaries: %v", err)
		}
		log.Printf("Logged %d depth summaries to run %s", len(records), run)
	}
}

func summary(v []float64) (lo, hi, mean float64) {
	if len(v) == 0 {
		return 0, 0, 0
	}
	lo, hi = v[0], v[0]
	for _, x := range v {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
		mean += x
	}
	return lo, hi, mean / float64(len(v))
}
