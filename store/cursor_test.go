package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeCursor_RoundTrip(t *testing.T) {
	in := AddressCursor{ID: "addr-1", CreatedAt: 1700000000000}
	raw := EncodeCursor(in)
	assert.NotEmpty(t, raw)

	var out AddressCursor
	ok := DecodeCursor(raw, &out)
	assert.True(t, ok)
	assert.Equal(t, in, out)
}

func TestDecodeCursor_EmptyYieldsFirstPage(t *testing.T) {
	var out AddressCursor
	ok := DecodeCursor("", &out)
	assert.False(t, ok)
	assert.Equal(t, AddressCursor{}, out)
}

func TestDecodeCursor_MalformedNeverErrors(t *testing.T) {
	var out AddressCursor
	ok := DecodeCursor("not-a-valid-cursor!!", &out)
	assert.False(t, ok)

	ok = DecodeCursor("dGhpcyBpcyBub3QganNvbg==", &out) // valid base64, invalid JSON
	assert.False(t, ok)
}

func TestPaginate_NoMoreRows(t *testing.T) {
	trimmed, page := Paginate(3, 10, func(i int) string { return "cursor" })
	assert.Equal(t, 3, trimmed)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestPaginate_HasMoreRowsTrimsToLimit(t *testing.T) {
	calledWith := -1
	trimmed, page := Paginate(11, 10, func(i int) string {
		calledWith = i
		return "next-cursor"
	})
	assert.Equal(t, 10, trimmed)
	assert.True(t, page.HasMore)
	assert.Equal(t, "next-cursor", page.NextCursor)
	assert.Equal(t, 9, calledWith)
}
