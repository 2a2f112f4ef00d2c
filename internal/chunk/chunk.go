// Package chunk implements the recursive separator-based text splitter
// (spec §4.B). No text-splitting library appears anywhere in the retrieved
// example corpus — the teacher's own ingestion pipeline chunks by a fixed
// character window with no separator awareness, and the only other splitter
// in the corpus (teilomillet-raggo) tokenizes with tiktoken, which doesn't
// match this spec's character-based recursive-separator contract. This
// package reproduces the algorithm in
// original_source/utils_rag.py's RecursiveCharacterTextSplitter
// configuration (chunk_size=500, chunk_overlap=50,
// separators=["\n\n","\n",".", " ", ""]).
package chunk

// DefaultSize is the target chunk size in characters.
const DefaultSize = 500

// DefaultOverlap is the character overlap between adjacent chunks.
const DefaultOverlap = 50

// defaultSeparators are tried in order, from coarsest to the empty
// (character-atomic) separator.
var defaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// Splitter recursively splits text on a priority list of separators,
// merging adjacent pieces up to a target size with a trailing overlap.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New constructs a Splitter with the given size and overlap. A size <= 0
// falls back to DefaultSize (500); a negative overlap, or one not smaller
// than size, falls back to DefaultOverlap (50). An overlap of 0 is kept.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	return &Splitter{size: size, overlap: overlap, separators: defaultSeparators}
}

// Split splits text into pieces no larger than the configured size and
// merges them into chunks with the configured character overlap between
// neighbors. The previous chunk's overlap tail is prepended to a chunk
// before its size is checked, so every chunk after the first can exceed
// the configured size by up to the overlap.
// Splitting never straddles source boundaries — callers apply Split once
// per source unit (per PDF page, per crawled page).
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	pieces := s.splitRecursive(text, s.separators)
	return s.merge(pieces)
}

// splitRecursive breaks text on the first usable separator, recursing into
// any resulting piece that still exceeds the target size using the
// remaining, narrower separators.
func (s *Splitter) splitRecursive(text string, separators []string) []string {
	if len(text) <= s.size {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, s.size)
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		parts = hardSplit(text, s.size)
	} else {
		parts = splitKeepSeparator(text, sep)
	}

	var out []string
	for _, p := range parts {
		if len(p) > s.size {
			out = append(out, s.splitRecursive(p, rest)...)
		} else if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitKeepSeparator splits text on sep, re-attaching sep to the end of
// every piece but the last so concatenation reproduces the original text.
func splitKeepSeparator(text, sep string) []string {
	segments := splitAll(text, sep)
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		if i < len(segments)-1 {
			seg += sep
		}
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// splitAll is strings.Split extracted locally to keep the package
// dependency-free and make the separator-reattachment logic above explicit.
func splitAll(text, sep string) []string {
	var out []string
	for {
		idx := indexOf(text, sep)
		if idx < 0 {
			out = append(out, text)
			return out
		}
		out = append(out, text[:idx])
		text = text[idx+len(sep):]
	}
}

func indexOf(text, sep string) int {
	n, m := len(text), len(sep)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if text[i:i+m] == sep {
			return i
		}
	}
	return -1
}

// hardSplit breaks text into runs of size runes when no separator applies
// — the atomic ("") separator case.
func hardSplit(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// merge greedily combines adjacent pieces up to the target size, inserting
// a trailing overlap from the previous chunk onto the next one so
// consecutive chunks share context.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current string

	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
		}
	}

	for _, p := range pieces {
		if len(current)+len(p) <= s.size || current == "" {
			current += p
			continue
		}
		flush()
		overlapStart := len(current) - s.overlap
		if overlapStart < 0 {
			overlapStart = 0
		}
		current = current[overlapStart:] + p
	}
	flush()

	return chunks
}
