// Package repair fixes the most common grammatical gaps in decoded captions:
// missing indefinite articles before common nouns and a lowercase first
// letter.
package repair

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// WordSet is a closed set of lowercase words.
type WordSet map[string]struct{}

// NewWordSet builds a set from words.
func NewWordSet(words ...string) WordSet {
	s := make(WordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// Has reports whether w is in the set.
func (s WordSet) Has(w string) bool {
	_, ok := s[w]
	return ok
}

// Union returns a new set holding the words of all sets.
func Union(sets ...WordSet) WordSet {
	out := make(WordSet)
	for _, s := range sets {
		for w := range s {
			out[w] = struct{}{}
		}
	}
	return out
}

var (
	// ArticleNouns need an article when nothing qualifies them.
	ArticleNouns = NewWordSet("dog", "cat", "man", "woman", "person", "child", "boy", "girl")

	Articles       = NewWordSet("a", "an", "the")
	Demonstratives = NewWordSet("this", "that", "these", "those")
	Colors         = NewWordSet("black", "white", "brown", "red", "blue", "green", "yellow", "gray")
	Numbers        = NewWordSet("two", "three", "four", "five")

	// Qualifiers are the words that already qualify a following noun.
	Qualifiers = Union(Articles, Demonstratives, Colors, Numbers)
)

// Article is inserted before unqualified nouns.
const Article = "a"

// Improve inserts "a" before every noun in ArticleNouns that is not preceded
// by a qualifier, then uppercases the first character. A noun opening the
// caption has no qualifier. Nouns match case-sensitively, qualifiers do not,
// so applying Improve twice gives the same result as applying it once.
func Improve(caption string) string {
	if caption == "" {
		return caption
	}

	words := strings.Fields(caption)
	out := make([]string, 0, len(words)+len(words)/2)
	for i, word := range words {
		if ArticleNouns.Has(word) && (i == 0 || !Qualifiers.Has(strings.ToLower(words[i-1]))) {
			out = append(out, Article)
		}
		out = append(out, word)
	}

	return capitalize(strings.Join(out, " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
