package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type row struct {
	id string
	at time.Time
}

func TestSize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Size())
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Size())
	require.Equal(t, 5, Pagination{Limit: 5}.Size())
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)
	encoded, err := EncodeCursor(Cursor{CreatedAt: at, ID: "42"})
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	require.Equal(t, "42", decoded.ID)
	require.True(t, at.Equal(decoded.CreatedAt))

	_, err = DecodeCursor("%%%")
	require.Error(t, err)
}

func TestPaginate(t *testing.T) {
	now := time.Now()
	rows := []*row{{"c", now}, {"b", now.Add(-time.Minute)}, {"a", now.Add(-2 * time.Minute)}}
	extract := func(r *row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, info, err := Paginate(rows, 2, extract)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "b", cursor.ID)

	page, info, err = Paginate(rows, 3, extract)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}
