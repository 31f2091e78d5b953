package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/golangast/egodepth/internal/config"
	"github.com/golangast/egodepth/internal/modeldata"
	"github.com/golangast/egodepth/neural/nn"
)

var (
	configPath = flag.String("config", "config.json", "Path to the JSON model config")
	outDir     = flag.String("out", "gob_models", "Directory for depth.gob and pose.gob")
	seed       = flag.Uint64("seed", 0, "Overrides the config seed when non-zero")
	writeCfg   = flag.Bool("write_config", false, "Also save the effective config next to the checkpoints")
)

var overrides config.Overrides

func main() {
	flag.Var(&overrides, "set", "Config override key=value (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg, err = cfg.Apply(overrides); err != nil {
		log.Fatalf("Invalid config override: %v", err)
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	models, err := modeldata.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build models: %v", err)
	}
	defer models.Close()
	log.Printf("Depth model: %d trainable values", nn.CountParameters(models.Depth))
	log.Printf("Pose regressor: %d trainable values", nn.CountParameters(models.Pose))

	depthPath, posePath, err := models.Save(*outDir)
	if err != nil {
		log.Fatalf("Failed to save checkpoints: %v", err)
	}
	log.Printf("Wrote %s and %s", depthPath, posePath)

	if *writeCfg {
		path := filepath.Join(*outDir, "config.json")
		if err := cfg.Save(path); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		log.Printf("Wrote %s", path)
	}
}
