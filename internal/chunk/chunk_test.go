package chunk

import (
	"strings"
	"testing"
)

func TestSplitRespectsSizeLimit(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon. ", 50)
	s := New(DefaultSize, DefaultOverlap)
	chunks := s.Split(text)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, c := range chunks {
		if len(c) > DefaultSize+DefaultOverlap {
			t.Errorf("chunk %d length %d exceeds size+overlap bound", i, len(c))
		}
	}
}

func TestSplitRoundTripsShortText(t *testing.T) {
	// A text shorter than the target size is returned as a single chunk
	// unchanged — the minimal case of the round-trip property (spec §8.1).
	s := New(DefaultSize, DefaultOverlap)
	text := "alpha beta gamma"
	chunks := s.Split(text)

	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("Split(%q) = %v, want single chunk unchanged", text, chunks)
	}
}

func TestSplitRoundTripsMultiChunkOverlap(t *testing.T) {
	// A long, separator-free text forces the hard-split + merge path
	// (spec §8.1's round-trip property across multiple chunks): trimming
	// each chunk's leading overlap duplicate and rejoining must reproduce
	// the original input exactly.
	s := New(100, 20)
	text := strings.Repeat("0123456789", 50) // 500 chars, no separators at all
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for a 500-char input split at size 100, got %d", len(chunks))
	}

	rebuilt := chunks[0]
	for _, c := range chunks[1:] {
		if len(c) < s.overlap {
			t.Fatalf("chunk %q shorter than configured overlap %d", c, s.overlap)
		}
		rebuilt += c[s.overlap:]
	}

	if rebuilt != text {
		t.Fatalf("rejoined chunks (len %d) != original text (len %d)", len(rebuilt), len(text))
	}
}

func TestSplitEmptyText(t *testing.T) {
	s := New(DefaultSize, DefaultOverlap)
	if got := s.Split(""); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
}

func TestSplitPrefersParagraphThenSentenceSeparators(t *testing.T) {
	s := New(40, 5)
	text := "First paragraph here.\n\nSecond paragraph that is quite a bit longer than the first one."
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	// The paragraph boundary should be respected in the first chunk rather
	// than the splitter falling straight through to a hard character split.
	if !strings.Contains(chunks[0], "First paragraph here.") {
		t.Errorf("first chunk = %q, want it to contain the first paragraph", chunks[0])
	}
}

func TestSplitZeroAndNegativeConfigFallBackToDefaults(t *testing.T) {
	s := New(0, -1)
	if s.size != DefaultSize || s.overlap != DefaultOverlap {
		t.Fatalf("New(0,-1) = {%d,%d}, want defaults {%d,%d}", s.size, s.overlap, DefaultSize, DefaultOverlap)
	}
}
