package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golangast/egodepth/neural/backbone"
	"github.com/golangast/egodepth/neural/depth"
	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/pose"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Resolution is an (height, width) training resolution.
type Resolution struct {
	Height int
	Width  int
}

// resolutions maps the imgResolution names to frame sizes.
var resolutions = map[string]Resolution{
	"low":  {128, 448},
	"med":  {192, 640},
	"high": {256, 832},
}

// Config holds the model construction settings. It is fixed before any
// model is built and read-only afterwards.
type Config struct {
	NumScales      int    `json:"numScales"`
	FlowType       string `json:"flowType"`
	PoseOutputType string `json:"poseOutputType"`
	BackboneLayers int    `json:"backboneLayers"`

	// Pretrained encoder weights, either a gob checkpoint or an ONNX export.
	Pretrained     bool   `json:"pretrained"`
	PretrainedPath string `json:"pretrainedPath"`
	OnnxBackbone   struct {
		ModelPath            string   `json:"modelPath"`
		ORTSharedLibraryPath string   `json:"ortSharedLibraryPath"`
		InputName            string   `json:"inputName"`
		OutputNames          []string `json:"outputNames"`
	} `json:"onnxBackbone"`

	ImgResolution string  `json:"imgResolution"`
	RefImages     int     `json:"refImages"`
	MinDepth      float64 `json:"minDepth"`
	MaxDepth      float64 `json:"maxDepth"`
	Init          string  `json:"init"`
	Seed          uint64  `json:"seed"`
}

// Default returns a Config populated with the standard training settings.
func Default() Config {
	c := Config{
		NumScales:      3,
		FlowType:       string(pose.FlowClassical),
		PoseOutputType: string(pose.OutputTranslation),
		BackboneLayers: 18,
		ImgResolution:  "med",
		RefImages:      1,
		MinDepth:       0.06,
		MaxDepth:       2,
		Init:           string(nn.InitDefault),
		Seed:           1,
	}
	onnx := backbone.DefaultONNXOptions()
	c.OnnxBackbone.InputName = onnx.InputName
	c.OnnxBackbone.OutputNames = onnx.OutputNames
	return c
}

// Load reads a JSON config from path on top of the defaults, so omitted
// keys keep their default values. A missing file yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return Config{}, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes c to path as indented JSON, creating the directory as needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every field and reports the first problem found.
func (c Config) Validate() error {
	if c.NumScales < 1 || c.NumScales > depth.MaxScales {
		return invalid("numScales %d outside 1..%d", c.NumScales, depth.MaxScales)
	}
	if _, err := pose.ParseFlowType(c.FlowType); err != nil {
		return invalid("flowType: %v", err)
	}
	if _, err := pose.ParseOutputType(c.PoseOutputType); err != nil {
		return invalid("poseOutputType: %v", err)
	}
	if err := backbone.Depth(c.BackboneLayers).Validate(); err != nil {
		return invalid("backboneLayers: %v", err)
	}
	if err := depth.CheckChannels(backbone.Channels(backbone.Depth(c.BackboneLayers))); err != nil {
		return invalid("backboneLayers %d: %v", c.BackboneLayers, err)
	}
	if c.Pretrained && c.PretrainedPath == "" && c.OnnxBackbone.ModelPath == "" {
		return invalid("pretrained is set but neither pretrainedPath nor onnxBackbone.modelPath is given")
	}
	if c.OnnxBackbone.ModelPath != "" && len(c.OnnxBackbone.OutputNames) != backbone.NumFeatures {
		return invalid("onnxBackbone.outputNames needs %d names, got %d", backbone.NumFeatures, len(c.OnnxBackbone.OutputNames))
	}
	if _, ok := resolutions[c.ImgResolution]; !ok {
		return invalid("imgResolution %q (want low, med or high)", c.ImgResolution)
	}
	if c.RefImages < 1 {
		return invalid("refImages %d must be at least 1", c.RefImages)
	}
	if c.MinDepth <= 0 || c.MaxDepth <= c.MinDepth {
		return invalid("depth range [%v, %v] must satisfy 0 < minDepth < maxDepth", c.MinDepth, c.MaxDepth)
	}
	if _, err := nn.ParseInitScheme(c.Init); err != nil {
		return invalid("init: %v", err)
	}
	return nil
}

// InputFrames returns the channel count of the pose regressor input.
func (c Config) InputFrames() int {
	return pose.FlowType(c.FlowType).InputChannels()
}

// Resolution returns the frame size selected by ImgResolution.
func (c Config) Resolution() Resolution {
	return resolutions[c.ImgResolution]
}

// ONNXOptions converts the onnxBackbone section for backbone.NewONNX.
func (c Config) ONNXOptions() backbone.ONNXOptions {
	return backbone.ONNXOptions{
		ModelPath:            c.OnnxBackbone.ModelPath,
		ORTSharedLibraryPath: c.OnnxBackbone.ORTSharedLibraryPath,
		InputName:            c.OnnxBackbone.InputName,
		OutputNames:          c.OnnxBackbone.OutputNames,
		Depth:                backbone.Depth(c.BackboneLayers),
	}
}
