package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	cursor, err := Decode(Encode(ts, "tx_abc123"))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.Timestamp)
	assert.Equal(t, "tx_abc123", cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{"not-base64!!!", "bm9waXBl" /* "nopipe" */, "YWJjfHR4XzE=" /* "abc|tx_1" */} {
		_, err := Decode(in)
		assert.ErrorIs(t, err, ErrInvalidCursor, in)
	}
}

func TestCursorAfter(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	c := &Cursor{Timestamp: ts, ID: "tx_m"}

	assert.True(t, c.After(ts.Add(-time.Second), "tx_z"))
	assert.False(t, c.After(ts.Add(time.Second), "tx_a"))
	assert.True(t, c.After(ts, "tx_a"))
	assert.False(t, c.After(ts, "tx_m"))
	assert.False(t, c.After(ts, "tx_z"))

	var none *Cursor
	assert.True(t, none.After(ts, "tx_a"))
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ParseLimit(""))
	assert.Equal(t, DefaultLimit, ParseLimit("abc"))
	assert.Equal(t, DefaultLimit, ParseLimit("-3"))
	assert.Equal(t, 10, ParseLimit("10"))
	assert.Equal(t, MaxLimit, ParseLimit("100000"))
}

func TestComputePage(t *testing.T) {
	base := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	type item struct {
		id string
		ts time.Time
	}
	key := func(i item) (time.Time, string) { return i.ts, i.id }

	items := []item{{"c", base.Add(2 * time.Hour)}, {"b", base.Add(time.Hour)}, {"a", base}}

	page, next, more := ComputePage(items, 2, key)
	assert.Len(t, page, 2)
	assert.True(t, more)
	cursor, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.ID)

	page, next, more = ComputePage(items, 3, key)
	assert.Len(t, page, 3)
	assert.False(t, more)
	assert.Empty(t, next)
}
