package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/golangast/egodepth/internal/config"
	"github.com/golangast/egodepth/internal/modeldata"
	"github.com/golangast/egodepth/internal/sqlite_db"
	"github.com/golangast/egodepth/neural/imageio"
	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/pose"
	"github.com/golangast/egodepth/neural/tensor"
)

var (
	configPath = flag.String("config", "config.json", "Path to the JSON model config")
	modelDir   = flag.String("models", "", "Directory holding pose.gob; empty keeps the initial weights")
	target     = flag.String("target", "", "Target frame")
	reference  = flag.String("reference", "", "Reference frame")
	flowPath   = flag.String("flow", "", "16-bit PNG flow map between the frames (classical and learned flow types)")
	dbPath     = flag.String("db", "", "Optional SQLite file that logs pose predictions")
)

var overrides config.Overrides

func main() {
	flag.Var(&overrides, "set", "Config override key=value (repeatable)")
	flag.Parse()
	if *target == "" || *reference == "" {
		log.Fatalf("Both -target and -reference are required.")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg, err = cfg.Apply(overrides); err != nil {
		log.Fatalf("Invalid config override: %v", err)
	}
	outType, err := pose.ParseOutputType(cfg.PoseOutputType)
	if err != nil {
		log.Fatalf("Invalid pose output type: %v", err)
	}
	models, err := modeldata.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build models: %v", err)
	}
	defer models.Close()
	if *modelDir != "" {
		if err := models.LoadPose(filepath.Join(*modelDir, modeldata.PoseFile)); err != nil {
			log.Fatalf("Failed to load pose checkpoint: %v", err)
		}
	}
	nn.Freeze(models.Pose)

	res := cfg.Resolution()
	var frames []*tensor.Tensor
	for _, p := range []string{*target, *reference} {
		f, err := imageio.Load(p, res.Width, res.Height)
		if err != nil {
			log.Fatalf("Failed to load frame: %v", err)
		}
		frames = append(frames, f)
	}
	if models.Pose.Flow != pose.FlowNone {
		if *flowPath == "" {
			log.Fatalf("Flow type %q needs a flow map. Use -flow <path>.", models.Pose.Flow)
		}
		flow, err := imageio.LoadFlow(*flowPath, res.Width, res.Height)
		if err != nil {
			log.Fatalf("Failed to load flow map: %v", err)
		}
		frames = append(frames, flow)
	}

	out, err := models.Pose.Forward(frames)
	if err != nil {
		log.Fatalf("Pose forward pass failed: %v", err)
	}
	vecs, err := pose.Vectors(out)
	if err != nil {
		log.Fatalf("Unexpected regressor output: %v", err)
	}
	vec := vecs[0]

	fmt.Printf("translation: %.6f %.6f %.6f\n", vec[0], vec[1], vec[2])
	fmt.Printf("rotation:    %.6f %.6f %.6f\n", vec[3], vec[4], vec[5])
	T := pose.Transform(vec, outType)
	fmt.Printf("transform (%s):\n%v\n", outType, mat.Formatted(T, mat.Squeeze()))

	if *dbPath != "" {
		run, err := sqlite_db.LogRun(*dbPath, "predict_pose", cfg, func(db *sql.DB, runID string) error {
			return sqlite_db.InsertPose(db, sqlite_db.PoseRecord{RunID: runID, Target: *target, Reference: *reference, Vector: vec})
		})
		if err != nil {
			log.Fatalf("Failed to log pose: %v", err)
		}
		log.Printf("Logged pose to run %s", run)
	}
}
