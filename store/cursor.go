package store

import (
	"encoding/base64"
	"encoding/json"
)

// Cursor is the opaque, base64-encoded pagination token described in
// spec.md §4.1/§6. Callers treat it as opaque; the server must accept any
// string and recover "no cursor" from malformed input rather than failing
// the query.

// AddressCursor is the stable sort tuple for address listings.
type AddressCursor struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// TransactionCursor is the stable sort tuple for transaction listings.
type TransactionCursor struct {
	Timestamp int64  `json:"timestamp"` // unix millis
	TxID      string `json:"txId"`
}

// EventCursor is the stable sort tuple for workflow event listings. The
// event id alone is sufficient; time+id tiebreak happens internally
// against the row's own (createdAt, id) ordering.
type EventCursor struct {
	ID string `json:"id"`
}

// EncodeCursor base64-encodes the JSON form of any cursor tuple.
func EncodeCursor(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// a cursor tuple is always one of the plain structs above; a
		// marshal failure here would be a programming error, not a
		// runtime condition callers can act on.
		return ""
	}
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeCursor decodes raw into v. A malformed or empty cursor yields
// ok=false ("no cursor", i.e. first page) and never an error: spec.md §8
// requires decode(unknown) to yield the first page, never a failed query.
func DecodeCursor(raw string, v interface{}) (ok bool) {
	if raw == "" {
		return false
	}
	b, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false
	}
	return true
}

// Page describes the result of a cursor-paginated query: the rows
// returned (already trimmed to the caller's limit) plus whether more rows
// exist beyond them.
type Page struct {
	HasMore    bool
	NextCursor string
}

// Paginate applies the "fetch limit+1, trim, encode" convention spec.md
// §4.2 describes. rows must have length <= limit+1 on entry; encodeLast
// builds the cursor for the last row that survives trimming.
func Paginate(rowCount, limit int, encodeLast func(lastIndex int) string) (trimmedCount int, page Page) {
	if rowCount > limit {
		return limit, Page{HasMore: true, NextCursor: encodeLast(limit - 1)}
	}
	return rowCount, Page{HasMore: false, NextCursor: ""}
}
