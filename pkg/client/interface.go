package client

import (
	"context"
	"errors"

	"github.com/menta2k/image-captioner/pkg/types"
)

var (
	// ErrModelUnavailable means a model or vocabulary could not be loaded.
	// The service must not accept caption requests while this holds.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInferenceFailure wraps an error raised by a model during a call.
	ErrInferenceFailure = errors.New("inference failure")
)

// FeatureExtractor turns a preprocessed image into its feature vector.
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, img types.ImageTensor) (types.FeatureVector, error)
}

// SequencePredictor returns the next-token distribution for a feature vector
// and a padded token sequence. Implementations must be safe for concurrent
// use and must not retain the passed slices.
type SequencePredictor interface {
	PredictNext(ctx context.Context, features types.FeatureVector, seq types.TokenSequence) (types.Distribution, error)
}

// ModelProvider bundles the two trained models.
type ModelProvider interface {
	FeatureExtractor
	SequencePredictor
	Close() error
}

// Describer produces a raw caption directly from an image using a remote
// vision model. imgB64 is a base64 encoded JPEG or PNG.
type Describer interface {
	Name() string
	Describe(ctx context.Context, imgB64 string) (string, error)
}
