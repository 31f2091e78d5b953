package main

import (
	"flag"
	"log"
	"math"
	"time"

	"github.com/golangast/egodepth/internal/config"
	"github.com/golangast/egodepth/internal/modeldata"
	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/pose"
	"github.com/golangast/egodepth/neural/tensor"
)

var (
	configPath = flag.String("config", "", "Optional JSON model config; defaults are used when empty")
	overrides  config.Overrides
)

func main() {
	flag.Var(&overrides, "set", "Config override key=value (repeatable)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	cfg, err := cfg.Apply(overrides)
	if err != nil {
		log.Fatalf("Invalid config override: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// run pushes synthetic frames through both networks and logs the output
// shapes and timings.
func run(cfg config.Config) error {
	models, err := modeldata.Build(cfg)
	if err != nil {
		return err
	}
	defer models.Close()
	nn.Freeze(models.Depth)
	nn.Freeze(models.Pose)

	res := cfg.Resolution()
	image := syntheticFrames(3, res.Height, res.Width, 0)

	start := time.Now()
	disps, err := models.Depth.Forward(image)
	if err != nil {
		return err
	}
	log.Printf("depth: %d scales in %s", len(disps), time.Since(start))
	for i, d := range disps {
		log.Printf("  scale %d: %v", i, d.Shape)
	}

	frames := []*tensor.Tensor{
		syntheticFrames(3, res.Height, res.Width, 0),
		syntheticFrames(3, res.Height, res.Width, 0.3),
	}
	if models.Pose.Flow != pose.FlowNone {
		frames = append(frames, tensor.NewTensor([]int{1, 2, res.Height, res.Width}, nil, false))
	}
	start = time.Now()
	out, err := models.Pose.Forward(frames)
	if err != nil {
		return err
	}
	log.Printf("pose: %v in %s: %.5f", out.Shape, time.Since(start), out.Data)
	return nil
}

func syntheticFrames(channels, h, w int, phase float64) *tensor.Tensor {
	t := tensor.NewTensor([]int{1, channels, h, w}, nil, false)
	for i := range t.Data {
		t.Data[i] = 0.5 + 0.5*math.Sin(phase+float64(i%w)*0.05+float64(i/w)*0.03)
	}
	return t
}
