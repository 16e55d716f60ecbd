// Package vocab maps caption tokens to the integer indices the sequence
// model was trained on, and back.
package vocab

import (
	"fmt"
	"sort"
	"strings"

	"github.com/menta2k/image-captioner/pkg/types"
)

const (
	// DefaultStartToken marks the beginning of every decoded sequence.
	DefaultStartToken = "startseq"
	// DefaultEndToken marks the end of a decoded sequence.
	DefaultEndToken = "endseq"
)

// filterChars are replaced by spaces before splitting, matching the filters
// the training tokenizer applied to captions.
const filterChars = "!\"#$%&()*+,-./:;<=>?@[\\]^_`{|}~\t\n"

// Vocabulary is an immutable bidirectional token/index table.
type Vocabulary struct {
	wordIndex map[string]int
	indexWord map[int]string
	start     string
	end       string

	// numWords > 0 limits Tokenize to indices below it.
	numWords int
	oovIndex int
	hasOOV   bool
}

// New builds a vocabulary from a token -> index table. Indices must be unique
// and non-negative, and both sentinels must be present.
func New(wordIndex map[string]int, start, end string) (*Vocabulary, error) {
	indexWord := make(map[int]string, len(wordIndex))
	for tok, idx := range wordIndex {
		if idx < 0 {
			return nil, fmt.Errorf("token %q has negative index %d", tok, idx)
		}
		if prev, ok := indexWord[idx]; ok {
			return nil, fmt.Errorf("index %d assigned to both %q and %q", idx, prev, tok)
		}
		indexWord[idx] = tok
	}
	return build(wordIndex, indexWord, start, end)
}

// NewFromIndexWord builds a vocabulary from an index -> token table.
func NewFromIndexWord(indexWord map[int]string, start, end string) (*Vocabulary, error) {
	wordIndex := make(map[string]int, len(indexWord))
	for idx, tok := range indexWord {
		if idx < 0 {
			return nil, fmt.Errorf("token %q has negative index %d", tok, idx)
		}
		if prev, ok := wordIndex[tok]; ok {
			return nil, fmt.Errorf("token %q assigned to both %d and %d", tok, prev, idx)
		}
		wordIndex[tok] = idx
	}
	return build(wordIndex, indexWord, start, end)
}

func build(wordIndex map[string]int, indexWord map[int]string, start, end string) (*Vocabulary, error) {
	if start == "" {
		start = DefaultStartToken
	}
	if end == "" {
		end = DefaultEndToken
	}
	if start == end {
		return nil, fmt.Errorf("start and end sentinels must differ, both are %q", start)
	}
	if _, ok := wordIndex[start]; !ok {
		return nil, fmt.Errorf("vocabulary has no start sentinel %q", start)
	}
	if _, ok := wordIndex[end]; !ok {
		return nil, fmt.Errorf("vocabulary has no end sentinel %q", end)
	}
	return &Vocabulary{
		wordIndex: wordIndex,
		indexWord: indexWord,
		start:     start,
		end:       end,
	}, nil
}

// WithTokenizerOptions returns a copy of v that tokenizes the way a
// tokenizer fitted with num_words and oov_token does. Indices at or above
// numWords are out of range; numWords <= 0 means no limit. With a non-empty
// oovToken, unknown and out-of-range words map to its index instead of
// being dropped. oovToken must be in the table.
func (v *Vocabulary) WithTokenizerOptions(numWords int, oovToken string) (*Vocabulary, error) {
	out := *v
	out.numWords = 0
	if numWords > 0 {
		out.numWords = numWords
	}
	out.oovIndex, out.hasOOV = 0, false
	if oovToken != "" {
		idx, ok := v.wordIndex[oovToken]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no oov token %q", oovToken)
		}
		out.oovIndex, out.hasOOV = idx, true
	}
	return &out, nil
}

// NumWords returns the tokenizer word limit, or 0 when there is none.
func (v *Vocabulary) NumWords() int { return v.numWords }

// StartToken returns the start-of-sequence sentinel
func (v *Vocabulary) StartToken() string { return v.start }

// EndToken returns the end-of-sequence sentinel
func (v *Vocabulary) EndToken() string { return v.end }

// IsSentinel reports whether tok is the start or end sentinel.
func (v *Vocabulary) IsSentinel(tok string) bool {
	return tok == v.start || tok == v.end
}

// Size returns the number of tokens.
func (v *Vocabulary) Size() int { return len(v.wordIndex) }

// MaxIndex returns the largest index in the table.
func (v *Vocabulary) MaxIndex() int {
	max := -1
	for idx := range v.indexWord {
		if idx > max {
			max = idx
		}
	}
	return max
}

// IndexToToken looks up the token for idx. A missing index is an ordinary
// outcome: the model can predict indices the table does not cover.
func (v *Vocabulary) IndexToToken(idx int) (string, bool) {
	tok, ok := v.indexWord[idx]
	return tok, ok
}

// TokenToIndex looks up the index of tok.
func (v *Vocabulary) TokenToIndex(tok string) (int, bool) {
	idx, ok := v.wordIndex[tok]
	return idx, ok
}

// Tokenize converts text to indices. Text is lowercased and punctuation is
// treated as whitespace. Words without an index, or whose index is at or
// above the word limit, map to the oov index when one is set and are
// dropped otherwise.
func (v *Vocabulary) Tokenize(text string) types.TokenSequence {
	words := SplitWords(text)
	seq := make(types.TokenSequence, 0, len(words))
	for _, w := range words {
		idx, ok := v.wordIndex[w]
		if ok && v.numWords > 0 && idx >= v.numWords {
			ok = false
		}
		switch {
		case ok:
			seq = append(seq, idx)
		case v.hasOOV:
			seq = append(seq, v.oovIndex)
		}
	}
	return seq
}

// WordIndex returns a copy of the token -> index table.
func (v *Vocabulary) WordIndex() map[string]int {
	out := make(map[string]int, len(v.wordIndex))
	for k, idx := range v.wordIndex {
		out[k] = idx
	}
	return out
}

// Tokens returns all tokens ordered by index.
func (v *Vocabulary) Tokens() []string {
	idxs := make([]int, 0, len(v.indexWord))
	for idx := range v.indexWord {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = v.indexWord[idx]
	}
	return out
}

// SplitWords applies the training tokenizer's normalisation: lowercase,
// filter characters become separators, empty words are dropped.
func SplitWords(text string) []string {
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if strings.ContainsRune(filterChars, r) {
			return ' '
		}
		return r
	}, text)
	return strings.Fields(text)
}

// PadSequence returns a new sequence of exactly maxLen indices. Shorter
// input is left-padded with zeros; longer input keeps its last maxLen
// elements.
func PadSequence(seq types.TokenSequence, maxLen int) types.TokenSequence {
	if maxLen <= 0 {
		return types.TokenSequence{}
	}
	out := make(types.TokenSequence, maxLen)
	if len(seq) >= maxLen {
		copy(out, seq[len(seq)-maxLen:])
		return out
	}
	copy(out[maxLen-len(seq):], seq)
	return out
}
