// Package onnx runs the two captioning networks (feature extractor and
// next-word predictor) through ONNX Runtime.
//
// The runtime is only linked when building with the "onnx" tag. Without it,
// Open reports client.ErrModelUnavailable and callers fall back to another
// caption source.
package onnx

import (
	"errors"
	"fmt"
	"os"
)

// Config locates the exported networks and the runtime library.
type Config struct {
	FeatureModelPath string // image -> feature vector network
	CaptionModelPath string // (features, sequence) -> next-word distribution network
	LibraryPath      string // onnxruntime shared library; empty uses ONNXRUNTIME_SHARED_LIBRARY_PATH
	NumThreads       int    // intra-op threads, 0 leaves the runtime default

	// Input names of the caption network. When empty the sequence input is
	// the integer-typed one, or the second input for all-float models.
	FeatureInput  string
	SequenceInput string
}

// Validate checks that both model files exist.
func (c Config) Validate() error {
	if c.FeatureModelPath == "" || c.CaptionModelPath == "" {
		return errors.New("both feature and caption model paths are required")
	}
	for _, p := range []string{c.FeatureModelPath, c.CaptionModelPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("model file %s: %w", p, err)
		}
	}
	return nil
}

func (c Config) libraryPath() string {
	if c.LibraryPath != "" {
		return c.LibraryPath
	}
	return os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
}
