package wire

// PendingTable accumulates continuation fragments per author.
//
// An author is present if and only if its most recent fragment continued and no
// final fragment arrived since. The table is not safe for concurrent use: it is
// meant to be owned by the single goroutine reading the transport.
type PendingTable struct {
	partial map[string]string
}

// NewPendingTable creates an empty table
func NewPendingTable() *PendingTable {
	return &PendingTable{partial: make(map[string]string)}
}

// Ingest feeds one fragment into the table. It returns the completed record and
// true when frag is final for its author.
func (t *PendingTable) Ingest(frag Fragment) (Record, bool) {
	if frag.Continues {
		t.partial[frag.Author] += frag.Text
		return Record{}, false
	}

	prev := t.partial[frag.Author]
	delete(t.partial, frag.Author)
	return Record{Author: frag.Author, Body: prev + frag.Text}, true
}

// Len returns the number of authors with an unterminated record
func (t *PendingTable) Len() int {
	return len(t.partial)
}

// pending returns the text accumulated so far for author
func (t *PendingTable) pending(author string) (string, bool) {
	text, ok := t.partial[author]
	return text, ok
}
