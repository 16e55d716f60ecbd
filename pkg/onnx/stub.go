//go:build !onnx

package onnx

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/types"
)

// Available reports whether ONNX Runtime support was compiled in.
const Available = false

// Provider is a placeholder when built without the onnx tag.
type Provider struct{}

var _ client.ModelProvider = (*Provider)(nil)

// Open always fails without the onnx build tag.
func Open(cfg Config, logger *zap.Logger) (*Provider, error) {
	return nil, fmt.Errorf("%w: built without onnx support", client.ErrModelUnavailable)
}

func (p *Provider) ExtractFeatures(ctx context.Context, img types.ImageTensor) (types.FeatureVector, error) {
	return nil, client.ErrModelUnavailable
}

func (p *Provider) PredictNext(ctx context.Context, features types.FeatureVector, seq types.TokenSequence) (types.Distribution, error) {
	return nil, client.ErrModelUnavailable
}

func (p *Provider) Close() error { return nil }
