package rag

import (
	"strings"
	"unicode/utf8"
)

// chunkSeparators defines the hierarchy of separators for recursive
// splitting, ordered from most semantic to least semantic:
//   - "\n\n" paragraph breaks
//   - "\n"   line breaks
//   - "."    sentence endings (period kept with sentence)
//   - " "    word boundaries
//   - ""     character level (last resort)
var chunkSeparators = []string{"\n\n", "\n", ".", " ", ""}

// TextChunker splits extracted document text into pieces small enough to fit
// a generation prompt's token budget, using a recursive character splitter.
//
// The algorithm tries the most semantically meaningful boundaries first
// (paragraphs), falling back to sentences, words, and finally characters only
// when necessary to fit within ChunkSize bytes. Statement generation runs per
// piece and the resulting batches are concatenated in piece order, so the
// splitter must never reorder text.
type TextChunker struct {
	ChunkSize int
}

// Split returns the ordered pieces of text, each at most ChunkSize bytes.
func (c TextChunker) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 2000
	}

	return recursiveSplit(trimmed, chunkSeparators, chunkSize)
}

// recursiveSplit splits text using a hierarchy of separators. It tries the
// first separator, merges small pieces, and recursively splits any pieces
// that are still too large using the remaining separators.
func recursiveSplit(text string, separators []string, chunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(text) <= chunkSize {
		return []string{text}
	}

	if len(separators) == 0 {
		return hardSplitByRunes(text, chunkSize)
	}

	sep := separators[0]
	remainingSeps := separators[1:]

	if sep == "" {
		return hardSplitByRunes(text, chunkSize)
	}

	parts := strings.Split(text, sep)

	// for sentence-ending separators, keep the separator with the left part
	keepSepLeft := sep == "."

	merged := mergeSmallPieces(parts, sep, chunkSize, keepSepLeft)

	var result []string
	for _, piece := range merged {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if len(piece) <= chunkSize {
			result = append(result, piece)
		} else {
			result = append(result, recursiveSplit(piece, remainingSeps, chunkSize)...)
		}
	}

	return result
}

// mergeSmallPieces combines adjacent pieces with the separator while they fit
// within chunkSize. If keepSepLeft is true, the separator is appended to the
// left part (periods stay at the end of their sentence).
func mergeSmallPieces(parts []string, sep string, chunkSize int, keepSepLeft bool) []string {
	if len(parts) == 0 {
		return nil
	}

	var result []string
	var current strings.Builder

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if current.Len() == 0 {
			current.WriteString(part)
			continue
		}

		if keepSepLeft {
			newLen := current.Len() + len(sep) + 1 + len(part)
			if newLen <= chunkSize {
				current.WriteString(sep)
				current.WriteString(" ")
				current.WriteString(part)
			} else {
				current.WriteString(sep)
				result = append(result, current.String())
				current.Reset()
				current.WriteString(part)
			}
		} else {
			newLen := current.Len() + len(sep) + len(part)
			if newLen <= chunkSize {
				current.WriteString(sep)
				current.WriteString(part)
			} else {
				result = append(result, current.String())
				current.Reset()
				current.WriteString(part)
			}
		}
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// hardSplitByRunes splits text into chunks of at most chunkSize bytes,
// respecting utf-8 rune boundaries. Last resort when no semantic separator
// can break the text small enough.
func hardSplitByRunes(text string, chunkSize int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}

	var result []string
	var current strings.Builder

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if current.Len() > 0 && current.Len()+runeBytes > chunkSize {
			result = append(result, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		s := strings.TrimSpace(current.String())
		if s != "" {
			result = append(result, s)
		}
	}

	return result
}
