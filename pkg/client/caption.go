package client

import (
	"regexp"
	"strings"
)

// CaptionPrompt asks a vision model for a caption in the style of the
// trained decoder: short, lowercase, no punctuation.
const CaptionPrompt = `Describe this photo in one short sentence of at most 15 words.
Write only the sentence: lowercase, no punctuation, no quotes, no preamble.
Mention the main subject and what it is doing, e.g. "dog is running through the grass".`

var (
	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\n?(.*?)```$")
	prefixes     = []string{"caption:", "description:", "sentence:"}
)

// CleanCaption normalises a free-form model reply into a raw caption: first
// non-empty line, fences, quotes and labels removed, trailing punctuation
// dropped, lowercase, single spaced.
func CleanCaption(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			s = line
			break
		}
	}

	s = strings.ToLower(s)
	for _, p := range prefixes {
		s = strings.TrimSpace(strings.TrimPrefix(s, p))
	}
	s = strings.Trim(s, "\"'`*")
	s = strings.TrimRight(s, ".!?;:, ")
	s = strings.Trim(s, "\"'`*")

	return strings.Join(strings.Fields(s), " ")
}
