package backbone

// ONNXOptions configures a backbone exported to ONNX.
type ONNXOptions struct {
	ModelPath string
	// Path to the onnxruntime shared library (.dll/.so/.dylib). If empty, the
	// environment variable ONNXRUNTIME_SHARED_LIBRARY_PATH will be respected.
	ORTSharedLibraryPath string
	InputName            string
	// OutputNames lists the five feature outputs, finest first.
	OutputNames []string
	Depth       Depth
}

// DefaultONNXOptions returns the tensor names used by the export script.
func DefaultONNXOptions() ONNXOptions {
	return ONNXOptions{
		InputName:   "image",
		OutputNames: []string{"feat0", "feat1", "feat2", "feat3", "feat4"},
		Depth:       18,
	}
}
