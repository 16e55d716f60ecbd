package vocab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Layouts(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"word index", `{"startseq": 1, "endseq": 2, "dog": 3}`},
		{"index word", `{"1": "startseq", "2": "endseq", "3": "dog"}`},
		{"tokenizer embedded string", `{"class_name": "Tokenizer", "config": {"num_words": null, "word_index": "{\"startseq\": 1, \"endseq\": 2, \"dog\": 3}"}}`},
		{"tokenizer object", `{"class_name": "Tokenizer", "config": {"index_word": {"1": "startseq", "2": "endseq", "3": "dog"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Read(strings.NewReader(tt.doc), "", "")
			require.NoError(t, err)
			assert.Equal(t, 3, v.Size())
			tok, ok := v.IndexToToken(3)
			assert.True(t, ok)
			assert.Equal(t, "dog", tok)
		})
	}
}

func TestRead_TokenizerOptions(t *testing.T) {
	doc := `{"class_name": "Tokenizer", "config": {"num_words": 4, "oov_token": "<unk>",` +
		` "word_index": "{\"<unk>\": 1, \"startseq\": 2, \"a\": 3, \"endseq\": 4, \"dog\": 5}"}}`

	v, err := Read(strings.NewReader(doc), "", "")
	require.NoError(t, err)
	assert.Equal(t, 4, v.NumWords())
	assert.Equal(t, 5, v.Size())
	// dog=5 is past num_words and becomes the oov index; endseq=4 too.
	assert.Equal(t, []int{2, 3, 1, 1}, []int(v.Tokenize("startseq a dog endseq")))

	noOOV := `{"class_name": "Tokenizer", "config": {"num_words": 3, "oov_token": null,` +
		` "word_index": {"startseq": 1, "a": 2, "endseq": 3}}}`
	v, err = Read(strings.NewReader(noOOV), "", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int(v.Tokenize("startseq a endseq")))
}

func TestRead_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":         `startseq endseq`,
		"empty":            `{}`,
		"mixed values":     `{"startseq": 1, "2": "endseq"}`,
		"bad index key":    `{"one": "startseq", "2": "endseq"}`,
		"no sentinels":     `{"dog": 1}`,
		"tokenizer empty":  `{"class_name": "Tokenizer", "config": {}}`,
		"oov not in table": `{"class_name": "Tokenizer", "config": {"oov_token": "<unk>", "word_index": {"startseq": 1, "endseq": 2}}}`,
		"negative words":   `{"class_name": "Tokenizer", "config": {"num_words": -1, "word_index": {"startseq": 1, "endseq": 2}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(doc), "", "")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"<start>": 1, "<end>": 2, "cat": 3}`), 0o644))

	v, err := LoadFile(path, "<start>", "<end>")
	require.NoError(t, err)
	assert.Equal(t, "<start>", v.StartToken())

	_, err = LoadFile(path, "", "")
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"), "", "")
	assert.Error(t, err)
}
