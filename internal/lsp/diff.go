package lsp

import (
	"unicode/utf16"
	"unicode/utf8"
)

// computeChange produces the minimal single-range replacement that turns
// oldText into newText: a start cursor advances while bytes match at the
// front, an end cursor retreats while bytes match at the back, and the two
// are bounded so they never cross. Returns ok=false when the texts are
// equal, in which case nothing should be sent.
func computeChange(oldText, newText string) (TextDocumentContentChangeEvent, bool) {
	if oldText == newText {
		return TextDocumentContentChangeEvent{}, false
	}

	// Common prefix, in bytes.
	limit := len(oldText)
	if len(newText) < limit {
		limit = len(newText)
	}
	prefix := 0
	for prefix < limit && oldText[prefix] == newText[prefix] {
		prefix++
	}
	// Never split a multi-byte character.
	for prefix > 0 && !utf8.RuneStart(oldText[prefix]) {
		prefix--
	}

	// Common suffix, bounded so it cannot overlap the prefix.
	maxSuffix := limit - prefix
	suffix := 0
	for suffix < maxSuffix && oldText[len(oldText)-1-suffix] == newText[len(newText)-1-suffix] {
		suffix++
	}
	for suffix > 0 && !utf8.RuneStart(oldText[len(oldText)-suffix]) {
		suffix--
	}

	start := offsetToPosition(oldText, prefix)
	end := offsetToPosition(oldText, len(oldText)-suffix)

	return TextDocumentContentChangeEvent{
		Range: &Range{Start: start, End: end},
		Text:  newText[prefix : len(newText)-suffix],
	}, true
}

// offsetToPosition converts a byte offset into a zero-based line/character
// position, with the character measured in UTF-16 code units as the
// protocol requires.
func offsetToPosition(text string, offset int) Position {
	if offset > len(text) {
		offset = len(text)
	}

	line := 0
	lineStart := 0
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}

	return Position{
		Line:      line,
		Character: utf16Len(text[lineStart:offset]),
	}
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// applyChange applies a single range replacement to text. It is the inverse
// of computeChange and exists for tests and for callers that mirror server
// edits locally.
func applyChange(text string, change TextDocumentContentChangeEvent) string {
	if change.Range == nil {
		return change.Text
	}
	start := positionToOffset(text, change.Range.Start)
	end := positionToOffset(text, change.Range.End)
	if end < start {
		end = start
	}
	return text[:start] + change.Text + text[end:]
}

// positionToOffset converts a line/character position (UTF-16 character
// units) back into a byte offset, clamping out-of-range values.
func positionToOffset(text string, pos Position) int {
	offset := 0
	for line := 0; line < pos.Line; line++ {
		next := indexByteFrom(text, offset, '\n')
		if next < 0 {
			return len(text)
		}
		offset = next + 1
	}

	units := 0
	for offset < len(text) && text[offset] != '\n' && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if utf16.RuneLen(r) == 2 {
			units += 2
		} else {
			units++
		}
		offset += size
	}
	return offset
}

func indexByteFrom(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
