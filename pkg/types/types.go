package types

import "fmt"

// FeatureVector is the fixed-length image embedding produced by the feature
// extractor. It is computed once per request and shared read-only by every
// decoding step of that request.
type FeatureVector []float32

// TokenSequence is an ordered list of vocabulary indices.
type TokenSequence []int

// Distribution is a probability distribution over the vocabulary for the next
// token position. Distribution[i] is the probability of index i.
type Distribution []float64

// ImageTensor is a preprocessed image in NHWC layout with a batch size of one:
// Data has Height*Width*Channels elements, row-major, values in [0,1].
type ImageTensor struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

// Shape returns the tensor shape as [1, H, W, C].
func (t ImageTensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), int64(t.Channels)}
}

// GenerationConfig holds the per-request decoding parameters
type GenerationConfig struct {
	MaxLength   int     `json:"max_length" mapstructure:"max_length"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// Trace keeps the top candidates of every step in the decode result.
	Trace bool `json:"-" mapstructure:"-"`
}

// DefaultGenerationConfig returns the decoding parameters the caption model
// was trained with.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxLength:   34,
		Temperature: 1.0,
	}
}

// Validate checks that the parameters can drive a decode
func (c GenerationConfig) Validate() error {
	if c.MaxLength < 1 {
		return fmt.Errorf("max_length must be positive, got %d", c.MaxLength)
	}
	if !(c.Temperature > 0) {
		return fmt.Errorf("temperature must be greater than 0, got %v", c.Temperature)
	}
	return nil
}

// StopReason records why a decode reached a terminal state.
type StopReason int

const (
	Generating StopReason = iota
	StoppedEnd
	StoppedUnknown
	StoppedMaxLength
)

func (s StopReason) String() string {
	switch s {
	case Generating:
		return "generating"
	case StoppedEnd:
		return "end_token"
	case StoppedUnknown:
		return "unknown_index"
	case StoppedMaxLength:
		return "max_length"
	default:
		return fmt.Sprintf("stop_reason(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s StopReason) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Candidate is one entry of a step's ranked distribution.
type Candidate struct {
	Index int     `json:"index"`
	Token string  `json:"token"`
	Prob  float64 `json:"prob"`
}

// StepTrace captures the top candidates considered at one decoding step.
type StepTrace struct {
	Step     int         `json:"step"`
	Top      []Candidate `json:"top"`
	Selected int         `json:"selected"`
}

// DecodeResult is the output of one autoregressive decode
type DecodeResult struct {
	// Words are the generated tokens in order, including the end sentinel
	// when it was produced.
	Words      []string    `json:"words"`
	RawCaption string      `json:"raw_caption"`
	Stop       StopReason  `json:"stop_reason"`
	Steps      []StepTrace `json:"steps,omitempty"`
}

// CaptionResult is the user-facing outcome of caption generation.
type CaptionResult struct {
	Caption     string      `json:"caption"`
	RawCaption  string      `json:"raw_caption"`
	Words       []string    `json:"words"`
	Stop        StopReason  `json:"stop_reason"`
	Temperature float64     `json:"temperature"`
	Source      string      `json:"source"`
	Steps       []StepTrace `json:"steps,omitempty"`
}
