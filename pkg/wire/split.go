package wire

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrAuthorDelimiter = errors.New("author must not contain the delimiter")
	ErrMultiline       = errors.New("author and body must not contain a newline")
)

// Split cuts a record into wire lines whose text holds at most max runes. Feeding
// the lines through Parse and a PendingTable yields the record again.
func Split(author, body string, max int) ([]string, error) {
	if max < 1 {
		return nil, fmt.Errorf("invalid fragment size %d", max)
	}
	if strings.Contains(author, Delimiter) {
		return nil, fmt.Errorf("%q: %w", author, ErrAuthorDelimiter)
	}
	if strings.ContainsAny(author, "\r\n") || strings.ContainsAny(body, "\r\n") {
		return nil, ErrMultiline
	}

	chunks := chunkRunes(body, max)
	lines := make([]string, 0, len(chunks)+1)
	for i, chunk := range chunks {
		last := i == len(chunks)-1
		if !last {
			lines = append(lines, Format(author, chunk, true))
			continue
		}
		if ambiguousFinal(chunk) {
			// The text would lose its tail on parse; terminate with an empty fragment.
			lines = append(lines, Format(author, chunk, true), Format(author, "", false))
			continue
		}
		lines = append(lines, Format(author, chunk, false))
	}
	return lines, nil
}

// chunkRunes always returns at least one chunk so an empty body still produces a line
func chunkRunes(s string, max int) []string {
	if utf8.RuneCountInString(s) <= max {
		return []string{s}
	}

	var chunks []string
	for len(s) > 0 {
		n, end := 0, 0
		for end < len(s) && n < max {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			n++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

func ambiguousFinal(text string) bool {
	if text == "" {
		return false
	}
	if strings.HasSuffix(text, Marker) {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	return unicode.IsSpace(r)
}
