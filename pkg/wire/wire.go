package wire

import (
	"strings"
	"unicode"
)

const (
	// Delimiter separates author and text on a wire line.
	Delimiter = ","

	// Marker at the end of a text flags the fragment as non-final.
	Marker = "$"

	// UnknownAuthor is used for lines without a delimiter.
	UnknownAuthor = "Unknown author"
)

// Fragment is one parsed wire line, possibly a partial record
type Fragment struct {
	Author    string
	Text      string
	Continues bool
}

// Record is a complete, reassembled message
type Record struct {
	Author string
	Body   string
}

// Parse splits one raw line into a fragment. It never fails: a line without a
// delimiter is attributed to UnknownAuthor.
func Parse(line string) Fragment {
	var frag Fragment
	if author, text, ok := strings.Cut(line, Delimiter); ok {
		frag.Author = author
		frag.Text = strings.TrimRightFunc(text, unicode.IsSpace)
	} else {
		frag.Author = UnknownAuthor
		frag.Text = strings.TrimRightFunc(line, unicode.IsSpace)
	}

	if strings.HasSuffix(frag.Text, Marker) {
		frag.Text = strings.TrimSuffix(frag.Text, Marker)
		frag.Continues = true
	}
	return frag
}

// Format renders one wire line, including the trailing newline
func Format(author, text string, continues bool) string {
	var b strings.Builder
	b.Grow(len(author) + len(text) + 3)
	b.WriteString(author)
	b.WriteString(Delimiter)
	b.WriteString(text)
	if continues {
		b.WriteString(Marker)
	}
	b.WriteByte('\n')
	return b.String()
}
