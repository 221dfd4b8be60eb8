// Package chunker splits extracted document text into overlapping,
// size-bounded segments, preferring paragraph, line and sentence boundaries.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order. The empty separator means a hard
// split at the chunk size.
var DefaultSeparators = []string{"\n\n", "\n", ". ", ""}

// Segment is a chunk of the input text. Start and End are byte offsets of
// Text within the input. Sizes are counted in characters (runes).
type Segment struct {
	Index   int
	Text    string
	Start   int
	End     int
	Overlap string
}

type Chunker struct {
	size       int
	overlap    int
	separators []string
}

type span struct {
	start int
	end   int
}

func New(size, overlap int, separators []string) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	seps := make([]string, len(separators))
	copy(seps, separators)
	return &Chunker{size: size, overlap: overlap, separators: seps}, nil
}

func (c *Chunker) Size() int {
	return c.size
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split cuts text into segments of at most the chunk size in characters.
// The result is deterministic for a given input and configuration.
func (c *Chunker) Split(text string) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var units []span
	if utf8.RuneCountInString(text) <= c.size {
		units = []span{{start: 0, end: len(text)}}
	} else {
		// Units leave room for the overlap carried into the next chunk.
		units = c.units(text, 0, c.separators, c.size-c.overlap)
	}

	var segments []Segment
	var prev *Segment
	start, end, n := -1, -1, 0
	emit := func() {
		seg, ok := c.trim(text, start, end)
		start, end = -1, -1
		if !ok || (prev != nil && seg.End <= prev.End) {
			return
		}
		if prev != nil && seg.Start < prev.End {
			seg.Overlap = text[seg.Start:minInt(prev.End, seg.End)]
		}
		seg.Index = len(segments)
		segments = append(segments, seg)
		prev = &segments[len(segments)-1]
	}

	for _, u := range units {
		un := utf8.RuneCountInString(text[u.start:u.end])
		if start < 0 {
			start, end, n = u.start, u.end, un
			continue
		}
		if n+un <= c.size {
			end = u.end
			n += un
			continue
		}
		emit()
		if prev == nil {
			start, end, n = u.start, u.end, un
			continue
		}
		start = c.seedStart(text, *prev, u)
		end = u.end
		n = utf8.RuneCountInString(text[start:end])
	}
	if start >= 0 {
		emit()
	}
	return segments
}

// seedStart picks where the buffer following prev begins: the last overlap
// runes of prev, shortened only when the whitespace between prev and next
// would push the buffer past the chunk size.
func (c *Chunker) seedStart(text string, prev Segment, next span) int {
	start := prev.End
	for i := 0; i < c.overlap && start > prev.Start; i++ {
		_, size := utf8.DecodeLastRuneInString(text[prev.Start:start])
		start -= size
	}
	excess := utf8.RuneCountInString(text[start:next.end]) - c.size
	for ; excess > 0 && start < next.start; excess-- {
		_, size := utf8.DecodeRuneInString(text[start:next.start])
		start += size
	}
	return start
}

func (c *Chunker) trim(text string, start, end int) (Segment, bool) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start >= end {
		return Segment{}, false
	}
	return Segment{Text: text[start:end], Start: start, End: end}, true
}

// units breaks text into contiguous spans of at most limit runes. Each
// separator stays attached to the piece it terminates, so the spans tile the
// input exactly.
func (c *Chunker) units(text string, base int, seps []string, limit int) []span {
	if utf8.RuneCountInString(text) <= limit {
		return []span{{start: base, end: base + len(text)}}
	}
	for i, sep := range seps {
		if sep == "" {
			break
		}
		if !strings.Contains(text, sep) {
			continue
		}
		var out []span
		off := base
		for _, piece := range strings.SplitAfter(text, sep) {
			if piece == "" {
				continue
			}
			if utf8.RuneCountInString(piece) > limit {
				out = append(out, c.units(piece, off, seps[i+1:], limit)...)
			} else {
				out = append(out, span{start: off, end: off + len(piece)})
			}
			off += len(piece)
		}
		return out
	}
	return hardSplit(text, base, limit)
}

// hardSplit cuts text into pieces of step runes.
func hardSplit(text string, base, step int) []span {
	var out []span
	from, n := 0, 0
	for i := range text {
		if n == step {
			out = append(out, span{start: base + from, end: base + i})
			from, n = i, 0
		}
		n++
	}
	return append(out, span{start: base + from, end: base + len(text)})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
