// Package wire implements the line protocol spoken by message devices on a serial link.
//
// # Wire Format
//
// A device writes one physical line per fragment:
//
//	author,text\n
//
// Goals:
//
//  1. Keep the protocol writable by very small devices (no framing, no lengths)
//  2. Allow a record to be longer than the device's line buffer
//  3. Allow several devices to share one link without corrupting each other
//
// # Fields
//
//   - author: Everything before the first comma, taken verbatim (not trimmed).
//     A line without a comma has no author; it is attributed to "Unknown author".
//   - text: Everything after the first comma. Trailing whitespace (including the
//     line terminator and a \r from CRLF devices) is removed.
//   - continuation marker: A text ending in `$` is not final. The marker is removed
//     and the text is held until the same author sends a final fragment.
//
// # Reassembly
//
// Fragments are keyed by author, so devices may interleave freely:
//
//	X,a$
//	Y,b$
//	X,c
//	Y,d
//
// yields the records {X, "ac"} and then {Y, "bd"}.
//
// A continuation that never receives a final fragment stays pending forever. The
// [PendingTable] never evicts; callers observe its size with [PendingTable.Len].
//
// # Encoding
//
// [Split] performs the device side: it cuts a record into fragments of a maximum
// text length, appending the marker to every fragment but the last. When the final
// text itself would be misread (it ends in `$` or whitespace) it is sent as a
// continuation followed by an empty final fragment:
//
//	bob,costs 5$$
//	bob,
//
// is the record {bob, "costs 5$"}.
package wire
