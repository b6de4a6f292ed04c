// Package chunker splits document text into overlapping chunks bounded by a
// character budget. Splitting is recursive and structural: paragraph breaks
// are preferred over line breaks, line breaks over sentence ends, sentence
// ends over word boundaries, with a hard character cut as the last resort.
// Output is deterministic for identical input and parameters, so chunk
// sequences can be recomputed identically at any time.
package chunker

import "strings"

// defaultChunkSize is the chunk budget used when none is configured.
const defaultChunkSize = 1000

// separators is the boundary preference order. The empty string marks the
// hard-cut fallback when no structural boundary exists in the text.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter splits text into chunks of at most ChunkSize characters with
// Overlap characters shared between consecutive chunks.
type Splitter struct {
	// chunkSize is the maximum number of characters per chunk.
	chunkSize int
	// overlap is the number of trailing characters carried into the next
	// chunk. Always strictly less than chunkSize.
	overlap int
}

// New constructs a Splitter, normalising out-of-range parameters:
// non-positive sizes fall back to the default, negative overlap becomes
// zero, and an overlap >= chunkSize is reduced to chunkSize/10.
func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

// ChunkSize returns the configured chunk budget.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split breaks text into ordered chunks. No returned chunk is empty; text
// that is all whitespace yields nil.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.split(text, separators)
}

// split recursively divides text at the strongest boundary present, then
// merges the resulting pieces back into budget-sized chunks.
func (s *Splitter) split(text string, seps []string) []string {
	if len(text) <= s.chunkSize {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	sep := ""
	var rest []string
	for i, cand := range seps {
		if cand == "" {
			break
		}
		if strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardCut(text)
	}

	// Pieces retain their separator suffix so recombination is lossless.
	var pieces []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if len(part) > s.chunkSize {
			pieces = append(pieces, s.splitRaw(part, rest)...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return s.merge(pieces)
}

// splitRaw is split without the final merge, used for oversized pieces so
// the parent merge sees boundary-sized fragments rather than whole chunks.
func (s *Splitter) splitRaw(text string, seps []string) []string {
	sep := ""
	var rest []string
	for i, cand := range seps {
		if cand == "" {
			break
		}
		if strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardCut(text)
	}
	var pieces []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if len(part) > s.chunkSize {
			pieces = append(pieces, s.splitRaw(part, rest)...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// merge greedily packs pieces into chunks of at most chunkSize characters,
// carrying a tail of up to overlap characters into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	for _, p := range pieces {
		if total+len(p) > s.chunkSize && total > 0 {
			if c := strings.TrimSpace(strings.Join(window, "")); c != "" {
				chunks = append(chunks, c)
			}
			// Shrink the window to the overlap budget before admitting p.
			for total > s.overlap || (total+len(p) > s.chunkSize && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += len(p)
	}
	if c := strings.TrimSpace(strings.Join(window, "")); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

// hardCut slices text into fixed-width chunks with the configured overlap.
// Used only when no structural boundary exists in an oversized span.
func (s *Splitter) hardCut(text string) []string {
	step := s.chunkSize - s.overlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + s.chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
