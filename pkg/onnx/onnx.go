//go:build onnx

package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/types"
)

// Available reports whether ONNX Runtime support was compiled in.
const Available = true

var (
	envMu          sync.Mutex
	envInitialized bool
)

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInitialized {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}
	envInitialized = true
	return nil
}

// session serialises Run calls on one network. Tensor setup and teardown
// happen outside the lock.
type session struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	opts    *ort.SessionOptions
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
}

func openSession(path string, numThreads int) (*session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}
	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}

	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if numThreads > 0 {
		if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}

	s, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, opts)
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	return &session{session: s, opts: opts, inputs: inputs, outputs: outputs}, nil
}

// run executes the network and returns a copy of the first output.
func (s *session) run(inputs []ort.Value) ([]float32, error) {
	outputs := make([]ort.Value, len(s.outputs))

	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, errors.New("session is closed")
	}
	err := s.session.Run(inputs, outputs)
	s.mu.Unlock()

	defer func() {
		for _, t := range outputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unsupported output tensor type %T", outputs[0])
	}
	data := out.GetData()
	cp := make([]float32, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.opts != nil {
		s.opts.Destroy()
		s.opts = nil
	}
}

// Provider serves both networks from ONNX sessions.
type Provider struct {
	features *session
	caption  *session
	featIdx  int
	seqIdx   int
	logger   *zap.Logger
}

var _ client.ModelProvider = (*Provider)(nil)

// Open initialises the runtime and loads both networks. Any failure is
// reported as client.ErrModelUnavailable.
func Open(cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrModelUnavailable, err)
	}
	if err := initEnvironment(cfg.libraryPath()); err != nil {
		return nil, fmt.Errorf("%w: initializing ONNX Runtime: %w", client.ErrModelUnavailable, err)
	}

	feat, err := openSession(cfg.FeatureModelPath, cfg.NumThreads)
	if err != nil {
		return nil, fmt.Errorf("%w: feature model: %w", client.ErrModelUnavailable, err)
	}
	capt, err := openSession(cfg.CaptionModelPath, cfg.NumThreads)
	if err != nil {
		feat.close()
		return nil, fmt.Errorf("%w: caption model: %w", client.ErrModelUnavailable, err)
	}
	if len(capt.inputs) != 2 {
		feat.close()
		capt.close()
		return nil, fmt.Errorf("%w: caption model has %d inputs, want 2", client.ErrModelUnavailable, len(capt.inputs))
	}

	featIdx, seqIdx := captionInputs(capt.inputs, cfg.FeatureInput, cfg.SequenceInput)

	logger.Info("ONNX models loaded",
		zap.String("feature_model", cfg.FeatureModelPath),
		zap.String("caption_model", cfg.CaptionModelPath),
		zap.String("feature_input", capt.inputs[featIdx].Name),
		zap.String("sequence_input", capt.inputs[seqIdx].Name))

	return &Provider{
		features: feat,
		caption:  capt,
		featIdx:  featIdx,
		seqIdx:   seqIdx,
		logger:   logger,
	}, nil
}

// captionInputs picks which caption-network input takes the feature vector
// and which takes the token sequence.
func captionInputs(inputs []ort.InputOutputInfo, featName, seqName string) (feat, seq int) {
	for i, in := range inputs {
		if seqName != "" && in.Name == seqName {
			return 1 - i, i
		}
		if featName != "" && in.Name == featName {
			return i, 1 - i
		}
	}
	for i, in := range inputs {
		if isInteger(in.DataType) {
			return 1 - i, i
		}
	}
	return 0, 1
}

func isInteger(dt ort.TensorElementDataType) bool {
	return dt == ort.TensorElementDataTypeInt64 || dt == ort.TensorElementDataTypeInt32
}

// ExtractFeatures runs the feature network on an NHWC tensor.
func (p *Provider) ExtractFeatures(ctx context.Context, img types.ImageTensor) (types.FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(img.Shape()...), img.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: creating image tensor: %w", client.ErrInferenceFailure, err)
	}
	defer input.Destroy()

	out, err := p.features.run([]ort.Value{input})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrInferenceFailure, err)
	}
	return types.FeatureVector(out), nil
}

// PredictNext runs the caption network once.
func (p *Provider) PredictNext(ctx context.Context, features types.FeatureVector, seq types.TokenSequence) (types.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	featTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(features))), []float32(features))
	if err != nil {
		return nil, fmt.Errorf("creating feature tensor: %w", err)
	}
	defer featTensor.Destroy()

	seqTensor, err := sequenceTensor(p.caption.inputs[p.seqIdx].DataType, seq)
	if err != nil {
		return nil, fmt.Errorf("creating sequence tensor: %w", err)
	}
	defer seqTensor.Destroy()

	inputs := make([]ort.Value, 2)
	inputs[p.featIdx] = featTensor
	inputs[p.seqIdx] = seqTensor

	out, err := p.caption.run(inputs)
	if err != nil {
		return nil, err
	}

	dist := make(types.Distribution, len(out))
	for i, v := range out {
		dist[i] = float64(v)
	}
	return dist, nil
}

// sequenceTensor builds a [1, len(seq)] tensor in the element type the
// network declares. Keras exports commonly use float32 here.
func sequenceTensor(dt ort.TensorElementDataType, seq types.TokenSequence) (ort.Value, error) {
	shape := ort.NewShape(1, int64(len(seq)))
	switch dt {
	case ort.TensorElementDataTypeInt64:
		data := make([]int64, len(seq))
		for i, v := range seq {
			data[i] = int64(v)
		}
		return ort.NewTensor(shape, data)
	case ort.TensorElementDataTypeInt32:
		data := make([]int32, len(seq))
		for i, v := range seq {
			data[i] = int32(v)
		}
		return ort.NewTensor(shape, data)
	default:
		data := make([]float32, len(seq))
		for i, v := range seq {
			data[i] = float32(v)
		}
		return ort.NewTensor(shape, data)
	}
}

// Close releases both sessions.
func (p *Provider) Close() error {
	p.features.close()
	p.caption.close()
	return nil
}
