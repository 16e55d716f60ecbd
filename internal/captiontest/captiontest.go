// Package captiontest provides scripted models and a small vocabulary for
// tests of the caption pipeline.
package captiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/types"
	"github.com/menta2k/image-captioner/pkg/vocab"
)

// DistSize is the length of every scripted distribution. Indices past the
// small vocabulary's largest index are unknown to it.
const DistSize = 10

// IndexWord is the small vocabulary used across tests.
var IndexWord = map[int]string{
	0: "<pad>",
	1: "startseq",
	2: "a",
	3: "dog",
	4: "is",
	5: "running",
	6: "endseq",
}

// Vocabulary builds IndexWord with the default sentinels.
func Vocabulary() *vocab.Vocabulary {
	v, err := vocab.NewFromIndexWord(IndexWord, "", "")
	if err != nil {
		panic(err)
	}
	return v
}

// Models is a ModelProvider whose next-word predictions follow Script.
// After the script runs out the last entry repeats. Calls are recorded.
type Models struct {
	Script   []int
	Features types.FeatureVector

	// PredictErr is returned by the call numbered ErrAt (0-based).
	PredictErr error
	ErrAt      int
	// ExtractErr is returned by every ExtractFeatures call.
	ExtractErr error

	mu      sync.Mutex
	calls   map[string]int
	seqs    map[string][]types.TokenSequence
	images  []types.ImageTensor
	closed  bool
	counter int
}

var _ client.ModelProvider = (*Models)(nil)

// NewModels returns scripted models emitting script.
func NewModels(script ...int) *Models {
	return &Models{
		Script:   script,
		Features: types.FeatureVector{0.5, 0.25, 0.125},
	}
}

// ExtractFeatures records the tensor and returns m.Features.
func (m *Models) ExtractFeatures(ctx context.Context, img types.ImageTensor) (types.FeatureVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, img)
	if m.ExtractErr != nil {
		return nil, m.ExtractErr
	}
	return m.Features, nil
}

// PredictNext returns a distribution peaked at the script entry for this
// call. Calls are counted per feature vector, so concurrent decodes over
// different features each follow the script from the start.
func (m *Models) PredictNext(ctx context.Context, features types.FeatureVector, seq types.TokenSequence) (types.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calls == nil {
		m.calls = make(map[string]int)
		m.seqs = make(map[string][]types.TokenSequence)
	}
	key := featureKey(features)
	step := m.calls[key]
	m.calls[key]++
	m.counter++
	m.seqs[key] = append(m.seqs[key], append(types.TokenSequence(nil), seq...))

	if m.PredictErr != nil && step == m.ErrAt {
		return nil, m.PredictErr
	}
	if len(m.Script) == 0 {
		return OneHot(0), nil
	}
	if step >= len(m.Script) {
		step = len(m.Script) - 1
	}
	return OneHot(m.Script[step]), nil
}

// Close marks the models closed.
func (m *Models) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the total number of PredictNext calls.
func (m *Models) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

// Sequences returns the padded sequences passed for m.Features.
func (m *Models) Sequences() []types.TokenSequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seqs[featureKey(m.Features)]
}

// Images returns the tensors passed to ExtractFeatures.
func (m *Models) Images() []types.ImageTensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images
}

// Closed reports whether Close was called.
func (m *Models) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// OneHot returns a DistSize distribution with most mass on idx.
func OneHot(idx int) types.Distribution {
	d := make(types.Distribution, DistSize)
	for i := range d {
		d[i] = 0.1 / float64(DistSize-1)
	}
	if idx >= 0 && idx < DistSize {
		d[idx] = 0.9
	}
	return d
}

func featureKey(f types.FeatureVector) string {
	return fmt.Sprint([]float32(f))
}

// Describer is a client.Describer returning a fixed reply.
type Describer struct {
	Reply string
	Err   error

	mu    sync.Mutex
	calls int
}

var _ client.Describer = (*Describer)(nil)

func (d *Describer) Name() string { return "fake" }

func (d *Describer) Describe(ctx context.Context, imgB64 string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return "", d.Err
	}
	return d.Reply, nil
}

// Calls returns the number of Describe calls.
func (d *Describer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
