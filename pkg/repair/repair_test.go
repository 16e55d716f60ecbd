package repair

import (
	"testing"
)

func TestImprove(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dog is running in grass", "A dog is running in grass"},
		{"a dog is running", "A dog is running"},
		{"man riding bike", "A man riding bike"},
		{"boy and girl play", "A boy and a girl play"},
		{"the dog chases cat", "The dog chases a cat"},
		{"two dog run", "Two dog run"},
		{"black dog and brown dog", "Black dog and brown dog"},
		{"that woman sits near man", "That woman sits near a man"},
		{"The Dog", "The Dog"},
		{"people walk down the street", "People walk down the street"},
		{"ñandu runs", "Ñandu runs"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Improve(tt.in); got != tt.want {
				t.Errorf("Improve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestImprove_PreviousWordCaseInsensitive(t *testing.T) {
	if got := Improve("THE dog"); got != "THE dog" {
		t.Errorf("got %q", got)
	}
	if got := Improve("Red cat"); got != "Red cat" {
		t.Errorf("got %q", got)
	}
}

func TestImprove_CollapsesWhitespace(t *testing.T) {
	if got := Improve("  a   dog  runs "); got != "A dog runs" {
		t.Errorf("got %q", got)
	}
	if got := Improve("   "); got != "" {
		t.Errorf("whitespace-only input: got %q", got)
	}
}

func TestImprove_Idempotent(t *testing.T) {
	inputs := []string{
		"dog is running in grass",
		"boy and girl play with dog",
		"cat cat cat",
		"man and woman and child",
		"person",
		"a dog",
		"white dog jumps over person",
		"",
	}
	for _, in := range inputs {
		once := Improve(in)
		twice := Improve(once)
		if once != twice {
			t.Errorf("Improve not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestImprove_InsertsOneArticlePerNoun(t *testing.T) {
	got := Improve("cat cat")
	if got != "A cat a cat" {
		t.Errorf("got %q", got)
	}
}

func TestWordSets(t *testing.T) {
	for _, w := range []string{"a", "an", "the", "this", "those", "gray", "five"} {
		if !Qualifiers.Has(w) {
			t.Errorf("%q should be a qualifier", w)
		}
	}
	for _, w := range []string{"six", "big", "dog"} {
		if Qualifiers.Has(w) {
			t.Errorf("%q should not be a qualifier", w)
		}
	}
	if len(ArticleNouns) != 8 {
		t.Errorf("expected 8 article nouns, got %d", len(ArticleNouns))
	}
}

func BenchmarkImprove(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Improve("dog is running through grass with man and child near brown cat")
	}
}
