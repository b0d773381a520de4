package transcriber

import (
	"strings"
	"testing"
)

func TestHallucinationFilterStripsNoiseMarkers(t *testing.T) {
	f := newHallucinationFilter()

	cases := map[string]string{
		"[MUSIC] hello there":          "hello there",
		"hello (applause) world":       "hello world",
		"[00:00:01.000 --> 00:00:02.000] hi": "hi",
		"...":                          "",
	}

	for in, want := range cases {
		if got := f.Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHallucinationFilterDropsDegenerateRepetition(t *testing.T) {
	f := newHallucinationFilter()
	got := f.Clean("the the the the the the the")
	if got != "" {
		t.Errorf("Clean(repetition) = %q, want empty", got)
	}
}

func TestHallucinationFilterDropsShortPhraseRepetition(t *testing.T) {
	f := newHallucinationFilter()
	got := f.Clean("subtítulos subtítulos subtítulos")
	if got != "" {
		t.Errorf("Clean(subtítulos x3) = %q, want empty", got)
	}
}

func TestHallucinationFilterDropsKnownSpuriousArtifacts(t *testing.T) {
	f := newHallucinationFilter()
	cases := []string{
		"subtítulos realizados por la comunidad de amara.org",
		"thanks for watching",
		"please like and subscribe to the channel",
		"♪♪♪",
	}
	for _, in := range cases {
		if got := f.Clean(in); got != "" {
			t.Errorf("Clean(%q) = %q, want empty", in, got)
		}
	}
}

func TestHallucinationFilterKeepsNormalSpeech(t *testing.T) {
	f := newHallucinationFilter()
	got := f.Clean("the quick brown fox jumps over the lazy dog")
	if got == "" {
		t.Errorf("Clean(normal speech) unexpectedly empty")
	}
}

func TestAppendToContextCapsLength(t *testing.T) {
	var b strings.Builder
	long := strings.Repeat("word ", 100)
	appendToContext(&b, long)
	if b.Len() > ContextWindowChars {
		t.Errorf("context window length = %d, want <= %d", b.Len(), ContextWindowChars)
	}
}

func TestFlattenConcatenatesChunks(t *testing.T) {
	chunks := [][]float32{{1, 2}, {3}, {4, 5, 6}}
	got := flatten(chunks)
	want := []float32{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("flatten length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flatten[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
