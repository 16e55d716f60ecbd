// Package decoder generates a caption one token at a time from an image
// feature vector.
//
// Each step tokenizes the text generated so far, pads it to the model's
// fixed input length, asks the sequence predictor for the next-token
// distribution, optionally rescales it by temperature and appends the most
// probable token. Decoding ends at the end sentinel, at an index the
// vocabulary does not know, or after max_length steps; all three are normal
// outcomes. Only a predictor error, or a distribution that is empty or holds
// NaN or infinite values, fails a decode.
package decoder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/types"
	"github.com/menta2k/image-captioner/pkg/vocab"
)

// DefaultTopK is the number of candidates recorded per step for diagnostics.
const DefaultTopK = 5

// Decoder drives the autoregressive loop. It holds no per-request state and
// is safe for concurrent use when its predictor is.
type Decoder struct {
	vocab     *vocab.Vocabulary
	predictor client.SequencePredictor
	logger    *zap.Logger
	topK      int
}

// New creates a decoder over a vocabulary and a sequence predictor.
func New(v *vocab.Vocabulary, predictor client.SequencePredictor, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		vocab:     v,
		predictor: predictor,
		logger:    logger,
		topK:      DefaultTopK,
	}
}

// Decode runs the loop for one feature vector. cfg.Temperature must be
// greater than zero; callers clamp it beforehand.
func (d *Decoder) Decode(ctx context.Context, features types.FeatureVector, cfg types.GenerationConfig) (types.DecodeResult, error) {
	if err := cfg.Validate(); err != nil {
		return types.DecodeResult{}, err
	}

	start, end := d.vocab.StartToken(), d.vocab.EndToken()
	running := make([]string, 1, cfg.MaxLength+1)
	running[0] = start
	words := make([]string, 0, cfg.MaxLength)

	result := types.DecodeResult{Stop: types.StoppedMaxLength}

	for step := 0; step < cfg.MaxLength; step++ {
		seq := vocab.PadSequence(d.vocab.Tokenize(strings.Join(running, " ")), cfg.MaxLength)

		probs, err := d.predictor.PredictNext(ctx, features, seq)
		if err != nil {
			return types.DecodeResult{}, fmt.Errorf("%w: step %d: %w", client.ErrInferenceFailure, step+1, err)
		}
		if len(probs) == 0 {
			return types.DecodeResult{}, fmt.Errorf("%w: step %d: empty distribution", client.ErrInferenceFailure, step+1)
		}
		if !Finite(probs) {
			return types.DecodeResult{}, fmt.Errorf("%w: step %d: non-finite distribution", client.ErrInferenceFailure, step+1)
		}

		dist := ApplyTemperature(probs, cfg.Temperature)
		idx := Argmax(dist)

		top := d.candidates(dist)
		if cfg.Trace {
			result.Steps = append(result.Steps, types.StepTrace{Step: step + 1, Top: top, Selected: idx})
		}
		if ce := d.logger.Check(zap.DebugLevel, "Decoding step"); ce != nil {
			ce.Write(zap.Int("step", step+1), zap.Any("top", top))
		}

		tok, ok := d.vocab.IndexToToken(idx)
		if !ok {
			d.logger.Warn("Word not found for index", zap.Int("step", step+1), zap.Int("index", idx))
			result.Stop = types.StoppedUnknown
			break
		}

		words = append(words, tok)
		running = append(running, tok)

		if tok == end {
			result.Stop = types.StoppedEnd
			break
		}
	}

	result.Words = words
	result.RawCaption = d.rawCaption(running)

	d.logger.Info("Caption decoded",
		zap.Strings("words", words),
		zap.String("raw_caption", result.RawCaption),
		zap.Stringer("stop", result.Stop))

	return result, nil
}

// rawCaption joins the running tokens without sentinels.
func (d *Decoder) rawCaption(running []string) string {
	kept := make([]string, 0, len(running))
	for _, tok := range running {
		if d.vocab.IsSentinel(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

func (d *Decoder) candidates(dist types.Distribution) []types.Candidate {
	idxs := TopK(dist, d.topK)
	out := make([]types.Candidate, len(idxs))
	for i, idx := range idxs {
		tok, ok := d.vocab.IndexToToken(idx)
		if !ok {
			tok = fmt.Sprintf("UNK_%d", idx)
		}
		out[i] = types.Candidate{Index: idx, Token: tok, Prob: dist[idx]}
	}
	return out
}
