// Package modeldata builds the depth and egomotion networks described by a
// config and moves their weights in and out of checkpoint files.
package modeldata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golangast/egodepth/internal/config"
	"github.com/golangast/egodepth/neural/backbone"
	"github.com/golangast/egodepth/neural/depth"
	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/pose"
)

// Checkpoint file names inside a model directory.
const (
	DepthFile = "depth.gob"
	PoseFile  = "pose.gob"
)

// Models holds the networks built from one config.
type Models struct {
	Config config.Config
	Depth  *depth.Model
	Pose   *pose.Regressor

	onnx *backbone.ONNX
}

// Encoder returns the single-image backbone selected by cfg: an ONNX encoder
// when onnxBackbone.modelPath is set, otherwise a ResNet, seeded from
// pretrainedPath when pretrained is true. refImages only widens the
// disparity heads, never the encoder input.
func Encoder(cfg config.Config) (backbone.Backbone, error) {
	if cfg.OnnxBackbone.ModelPath != "" {
		o, err := backbone.NewONNX(cfg.ONNXOptions())
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	r, err := backbone.NewResNet(backbone.Depth(cfg.BackboneLayers), 1, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if cfg.Pretrained {
		if err := r.LoadPretrained(cfg.PretrainedPath); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Build validates cfg and constructs both networks. The decoder and the
// regressor draw from separate initialiser streams so each is reproducible
// on its own.
func Build(cfg config.Config) (*Models, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme, err := nn.ParseInitScheme(cfg.Init)
	if err != nil {
		return nil, err
	}
	flow, err := pose.ParseFlowType(cfg.FlowType)
	if err != nil {
		return nil, err
	}

	enc, err := Encoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("building encoder: %w", err)
	}
	m := &Models{Config: cfg}
	if o, ok := enc.(*backbone.ONNX); ok {
		m.onnx = o
	}

	m.Depth, err = depth.NewModel(enc, nn.NewInitializer(scheme, cfg.Seed), cfg.NumScales, cfg.RefImages)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("building depth model: %w", err)
	}
	m.Pose, err = pose.NewRegressor(nn.NewInitializer(scheme, cfg.Seed+1), flow)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("building pose regressor: %w", err)
	}
	return m, nil
}

// Close releases the ONNX Runtime session environment, if any.
func (m *Models) Close() error {
	if m.onnx == nil {
		return nil
	}
	err := m.onnx.Close()
	m.onnx = nil
	return err
}

// Save writes both checkpoints into dir and returns their paths.
func (m *Models) Save(dir string) (string, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create model directory: %w", err)
	}
	depthPath := filepath.Join(dir, DepthFile)
	posePath := filepath.Join(dir, PoseFile)
	if err := nn.SaveCheckpoint(nn.NewCheckpoint(depth.CheckpointKind, m.Depth), depthPath); err != nil {
		return "", "", err
	}
	if err := nn.SaveCheckpoint(nn.NewCheckpoint(pose.CheckpointKind, m.Pose), posePath); err != nil {
		return "", "", err
	}
	return depthPath, posePath, nil
}

// LoadDepth restores the depth model from a checkpoint written by Save.
func (m *Models) LoadDepth(path string) error {
	return apply(path, depth.CheckpointKind, m.Depth)
}

// LoadPose restores the pose regressor from a checkpoint written by Save.
func (m *Models) LoadPose(path string) error {
	return apply(path, pose.CheckpointKind, m.Pose)
}

// Load restores whichever checkpoints exist in dir. It reports how many
// were applied.
func (m *Models) Load(dir string) (int, error) {
	loaded := 0
	for _, f := range []struct {
		name string
		load func(string) error
	}{
		{DepthFile, m.LoadDepth},
		{PoseFile, m.LoadPose},
	} {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := f.load(path); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func apply(path, kind string, m nn.Stateful) error {
	ckpt, err := nn.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if ckpt.Kind != kind {
		return fmt.Errorf("%w: %s holds a %q checkpoint, want %q", nn.ErrCheckpointMismatch, path, ckpt.Kind, kind)
	}
	if err := ckpt.Apply(m); err != nil {
		return fmt.Errorf("applying %s: %w", path, err)
	}
	return nil
}
