// Package captioner generates natural-language captions for images and
// renders them as annotated figures.
//
// A caption is produced in four stages: the image is resized to the model's
// square input and turned into a float tensor, a feature extractor maps it to
// a feature vector, a decoder generates words one at a time until the end
// token, and a repair pass adds missing articles and capitalizes the result.
// A remote vision model (Ollama or llama.cpp) can stand in for the first three
// stages; repair and rendering are the same either way.
//
// Basic usage:
//
//	c, err := captioner.Open(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, err := c.ProcessImageFile(ctx, "dog.jpg", types.DefaultGenerationConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Caption.Caption)
//	os.WriteFile("dog_captioned.png", res.Image, 0o644)
package captioner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/image-captioner/internal/config"
	"github.com/menta2k/image-captioner/internal/metrics"
	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/decoder"
	"github.com/menta2k/image-captioner/pkg/llamacpp"
	"github.com/menta2k/image-captioner/pkg/ollama"
	"github.com/menta2k/image-captioner/pkg/onnx"
	"github.com/menta2k/image-captioner/pkg/processing"
	"github.com/menta2k/image-captioner/pkg/render"
	"github.com/menta2k/image-captioner/pkg/repair"
	"github.com/menta2k/image-captioner/pkg/types"
	"github.com/menta2k/image-captioner/pkg/vocab"
)

// Version of the image captioner library
const Version = "1.0.0"

// describeMaxDim bounds the image sent to remote vision models.
const describeMaxDim = 1024

// Config holds the pipeline settings that are not per request
type Config struct {
	ImageSize  int
	Generation types.GenerationConfig
	Render     render.Config
}

// DefaultConfig returns the settings the caption model was trained with
func DefaultConfig() Config {
	return Config{
		ImageSize:  processing.DefaultImageSize,
		Generation: types.DefaultGenerationConfig(),
		Render:     render.DefaultConfig(),
	}
}

// Captioner runs the caption pipeline. It is safe for concurrent use when
// its model provider is.
type Captioner struct {
	cfg       Config
	processor *processing.Processor
	renderer  *render.Renderer
	models    client.ModelProvider
	decoder   *decoder.Decoder
	describer client.Describer
	source    string
	logger    *zap.Logger
}

// Result is the outcome of ProcessImage: the caption and the annotated PNG.
type Result struct {
	Caption types.CaptionResult
	Image   []byte
}

// New creates a Captioner over local models with default configuration
func New(models client.ModelProvider, v *vocab.Vocabulary, logger *zap.Logger) *Captioner {
	return NewWithConfig(models, v, DefaultConfig(), logger)
}

// NewWithConfig creates a Captioner over local models with custom configuration
func NewWithConfig(models client.ModelProvider, v *vocab.Vocabulary, cfg Config, logger *zap.Logger) *Captioner {
	c := newCaptioner(cfg, logger)
	c.models = models
	c.source = "local"
	if models != nil && v != nil {
		c.decoder = decoder.New(v, timedPredictor{models}, c.logger)
	}
	return c
}

// NewWithDescriber creates a Captioner whose raw captions come from a remote
// vision model.
func NewWithDescriber(d client.Describer, cfg Config, logger *zap.Logger) *Captioner {
	c := newCaptioner(cfg, logger)
	c.describer = d
	if d != nil {
		c.source = d.Name()
	}
	return c
}

func newCaptioner(cfg Config, logger *zap.Logger) *Captioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = processing.DefaultImageSize
	}
	if cfg.Render.ImageSize <= 0 {
		cfg.Render.ImageSize = cfg.ImageSize
	}
	return &Captioner{
		cfg:       cfg,
		processor: processing.NewProcessor(),
		renderer:  render.NewWithConfig(cfg.Render),
		logger:    logger,
	}
}

// Open builds a Captioner from application configuration. Failure to load
// models or vocabulary is reported as client.ErrModelUnavailable.
func Open(cfg *config.Config, logger *zap.Logger) (*Captioner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc, err := cfg.RenderSettings()
	if err != nil {
		return nil, fmt.Errorf("render settings: %w", err)
	}
	pc := Config{
		ImageSize:  cfg.Generation.ImageSize,
		Generation: cfg.GenerationSettings(),
		Render:     rc,
	}

	switch cfg.Models.Backend {
	case config.BackendOllama:
		d, err := ollama.NewClient(cfg.Models.RemoteURL, cfg.Models.RemoteModel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", client.ErrModelUnavailable, err)
		}
		return NewWithDescriber(d, pc, logger), nil

	case config.BackendLlamaCpp:
		d, err := llamacpp.NewClient(cfg.Models.RemoteURL, cfg.Models.RemoteModel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", client.ErrModelUnavailable, err)
		}
		return NewWithDescriber(d, pc, logger), nil
	}

	start := time.Now()
	v, err := vocab.LoadFile(cfg.Models.Vocabulary, cfg.Generation.StartToken, cfg.Generation.EndToken)
	if err != nil {
		return nil, fmt.Errorf("%w: vocabulary: %w", client.ErrModelUnavailable, err)
	}
	models, err := onnx.Open(cfg.ONNXSettings(), logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Models loaded",
		zap.Int("vocab_size", v.Size()),
		zap.Duration("elapsed", time.Since(start)))

	return NewWithConfig(models, v, pc, logger), nil
}

// Ready reports whether the Captioner can serve caption requests
func (c *Captioner) Ready() bool {
	return c != nil && (c.decoder != nil || c.describer != nil)
}

// Source names where raw captions come from
func (c *Captioner) Source() string {
	return c.source
}

// Config returns the pipeline configuration
func (c *Captioner) Config() Config {
	return c.cfg
}

// Renderer returns the annotated-image renderer
func (c *Captioner) Renderer() *render.Renderer {
	return c.renderer
}

// GenerateCaption captions an already decoded image.
func (c *Captioner) GenerateCaption(ctx context.Context, img image.Image, gen types.GenerationConfig) (types.CaptionResult, error) {
	if !c.Ready() {
		return types.CaptionResult{}, client.ErrModelUnavailable
	}
	if err := gen.Validate(); err != nil {
		return types.CaptionResult{}, err
	}
	if img == nil {
		return types.CaptionResult{}, fmt.Errorf("%w: no image", processing.ErrImageDecode)
	}

	start := time.Now()
	var (
		decoded types.DecodeResult
		err     error
	)
	if c.describer != nil {
		decoded, err = c.describe(ctx, img)
	} else {
		decoded, err = c.decode(ctx, img, gen)
	}
	if err != nil {
		metrics.RecordCaption(c.source, "error", 0)
		return types.CaptionResult{}, err
	}

	result := types.CaptionResult{
		Caption:     repair.Improve(decoded.RawCaption),
		RawCaption:  decoded.RawCaption,
		Words:       decoded.Words,
		Stop:        decoded.Stop,
		Temperature: gen.Temperature,
		Source:      c.source,
		Steps:       decoded.Steps,
	}

	metrics.RecordCaption(c.source, "success", time.Since(start).Seconds())
	metrics.RecordTokens(c.source, len(decoded.Words))
	metrics.RecordStopReason(decoded.Stop.String())

	return result, nil
}

func (c *Captioner) decode(ctx context.Context, img image.Image, gen types.GenerationConfig) (types.DecodeResult, error) {
	tensor := c.processor.ToTensor(img, c.cfg.ImageSize)

	features, err := c.models.ExtractFeatures(ctx, tensor)
	if err != nil {
		if !errors.Is(err, client.ErrInferenceFailure) {
			err = fmt.Errorf("%w: feature extraction: %w", client.ErrInferenceFailure, err)
		}
		return types.DecodeResult{}, err
	}

	return c.decoder.Decode(ctx, features, gen)
}

func (c *Captioner) describe(ctx context.Context, img image.Image) (types.DecodeResult, error) {
	b64, err := c.processor.PrepareImageForModel(img, "jpg", describeMaxDim, 90)
	if err != nil {
		return types.DecodeResult{}, fmt.Errorf("%w: %w", processing.ErrImageDecode, err)
	}

	raw, err := c.describer.Describe(ctx, b64)
	if err != nil {
		return types.DecodeResult{}, err
	}

	return types.DecodeResult{
		Words:      strings.Fields(raw),
		RawCaption: strings.TrimSpace(raw),
		Stop:       types.StoppedEnd,
	}, nil
}

// RenderAnnotated draws caption above img and returns PNG bytes.
func (c *Captioner) RenderAnnotated(img image.Image, caption string) ([]byte, error) {
	return c.renderer.Render(img, caption)
}

// ProcessImage decodes raw image bytes, captions them and renders the result.
func (c *Captioner) ProcessImage(ctx context.Context, data []byte, gen types.GenerationConfig) (Result, error) {
	img, err := c.processor.DecodeImage(data)
	if err != nil {
		return Result{}, err
	}
	return c.process(ctx, img, gen)
}

// ProcessImageFile is ProcessImage for a file path or http(s) URL.
func (c *Captioner) ProcessImageFile(ctx context.Context, source string, gen types.GenerationConfig) (Result, error) {
	img, err := c.processor.LoadImageSmart(source)
	if err != nil {
		return Result{}, err
	}
	return c.process(ctx, img, gen)
}

func (c *Captioner) process(ctx context.Context, img image.Image, gen types.GenerationConfig) (Result, error) {
	caption, err := c.GenerateCaption(ctx, img, gen)
	if err != nil {
		return Result{}, err
	}
	png, err := c.RenderAnnotated(img, caption.Caption)
	if err != nil {
		return Result{Caption: caption}, err
	}
	return Result{Caption: caption, Image: png}, nil
}

// Close releases the model provider
func (c *Captioner) Close() error {
	if c.models != nil {
		return c.models.Close()
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// timedPredictor records the latency of every decoding step.
type timedPredictor struct {
	client.SequencePredictor
}

func (p timedPredictor) PredictNext(ctx context.Context, features types.FeatureVector, seq types.TokenSequence) (types.Distribution, error) {
	start := time.Now()
	defer func() { metrics.RecordStepDuration(time.Since(start).Seconds()) }()
	return p.SequencePredictor.PredictNext(ctx, features, seq)
}
