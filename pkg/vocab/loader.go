package vocab

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bytedance/sonic"
)

// LoadFile reads a serialized vocabulary. Three JSON layouts are accepted:
//
//	{"startseq": 1, "dog": 3, ...}                        token -> index
//	{"1": "startseq", "3": "dog", ...}                    index -> token
//	{"class_name": "Tokenizer", "config": {...}}          tokenizer.to_json()
func LoadFile(path, start, end string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	v, err := Read(f, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Read parses a vocabulary document from r. See LoadFile for the layouts.
func Read(r io.Reader, start, end string) (*Vocabulary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}

	if cfg, ok := raw["config"]; ok {
		if _, isTokenizer := raw["class_name"]; isTokenizer {
			return readTokenizerJSON(cfg, start, end)
		}
	}

	var wordIndex map[string]int
	if err := sonic.Unmarshal(data, &wordIndex); err == nil {
		return New(wordIndex, start, end)
	}

	var indexWord map[string]string
	if err := sonic.Unmarshal(data, &indexWord); err != nil {
		return nil, fmt.Errorf("vocabulary values must be all indices or all tokens")
	}
	return fromStringKeys(indexWord, start, end)
}

// readTokenizerJSON handles the tokenizer.to_json() layout, where word_index
// is itself a JSON document embedded as a string. num_words and oov_token
// carry over to Tokenize.
func readTokenizerJSON(cfg json.RawMessage, start, end string) (*Vocabulary, error) {
	var config struct {
		WordIndex json.RawMessage `json:"word_index"`
		IndexWord json.RawMessage `json:"index_word"`
		NumWords  *int            `json:"num_words"`
		OOVToken  *string         `json:"oov_token"`
	}
	if err := sonic.Unmarshal(cfg, &config); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer config: %w", err)
	}

	v, err := readTokenizerTable(config.WordIndex, config.IndexWord, start, end)
	if err != nil {
		return nil, err
	}
	if config.NumWords == nil && config.OOVToken == nil {
		return v, nil
	}

	numWords, oov := 0, ""
	if config.NumWords != nil {
		if *config.NumWords < 0 {
			return nil, fmt.Errorf("num_words must not be negative, got %d", *config.NumWords)
		}
		numWords = *config.NumWords
	}
	if config.OOVToken != nil {
		oov = *config.OOVToken
	}
	return v.WithTokenizerOptions(numWords, oov)
}

func readTokenizerTable(wordIndexDoc, indexWordDoc json.RawMessage, start, end string) (*Vocabulary, error) {
	if len(wordIndexDoc) > 0 {
		doc, err := unwrapEmbedded(wordIndexDoc)
		if err != nil {
			return nil, fmt.Errorf("word_index: %w", err)
		}
		var wordIndex map[string]int
		if err := sonic.Unmarshal(doc, &wordIndex); err != nil {
			return nil, fmt.Errorf("failed to parse word_index: %w", err)
		}
		return New(wordIndex, start, end)
	}

	if len(indexWordDoc) > 0 {
		doc, err := unwrapEmbedded(indexWordDoc)
		if err != nil {
			return nil, fmt.Errorf("index_word: %w", err)
		}
		var indexWord map[string]string
		if err := sonic.Unmarshal(doc, &indexWord); err != nil {
			return nil, fmt.Errorf("failed to parse index_word: %w", err)
		}
		return fromStringKeys(indexWord, start, end)
	}

	return nil, fmt.Errorf("tokenizer config has neither word_index nor index_word")
}

// unwrapEmbedded returns the JSON document inside msg, which is either the
// document itself or a string containing it.
func unwrapEmbedded(msg json.RawMessage) ([]byte, error) {
	if len(msg) > 0 && msg[0] == '"' {
		var s string
		if err := sonic.Unmarshal(msg, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return msg, nil
}

func fromStringKeys(raw map[string]string, start, end string) (*Vocabulary, error) {
	indexWord := make(map[int]string, len(raw))
	for k, tok := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid token index %q: %w", k, err)
		}
		indexWord[idx] = tok
	}
	return NewFromIndexWord(indexWord, start, end)
}
