package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/davecgh/go-spew/spew"

	"github.com/golangast/egodepth/internal/config"
	"github.com/golangast/egodepth/internal/modeldata"
	"github.com/golangast/egodepth/neural/nn"
)

var (
	configPath = flag.String("config", "config.json", "Path to the JSON model config")
	modelDir   = flag.String("models", "", "Optional checkpoint directory to load before listing")
	verbose    = flag.Bool("v", false, "List every named tensor")
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
	dump := spew.ConfigState{Indent: "  ", DisableMethods: true, SortKeys: true}
	dump.Dump(cfg)

	models, err := modeldata.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build models: %v", err)
	}
	defer models.Close()
	if *modelDir != "" {
		n, err := models.Load(*modelDir)
		if err != nil {
			log.Fatalf("Failed to load checkpoints: %v", err)
		}
		log.Printf("Loaded %d checkpoints from %s", n, *modelDir)
	}

	for _, m := range []struct {
		name  string
		model interface {
			nn.Stateful
			nn.Trainable
		}
	}{
		{"depth", models.Depth},
		{"pose", models.Pose},
	} {
		named := m.model.NamedParameters(m.name)
		fmt.Printf("\n%s: %d tensors, %d trainable values\n", m.name, len(named), nn.CountParameters(m.model))
		if !*verbose {
			continue
		}
		for _, np := range named {
			fmt.Printf("  %-48s %v\n", np.Name, np.Tensor.Shape)
		}
	}
}
