package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{CreatedAt: time.Date(2026, 3, 4, 12, 30, 0, 123, time.UTC), ID: uuid.New()}

	parsed, err := ParseCursor(EncodeCursor(original))
	require.NoError(t, err)
	require.True(t, original.CreatedAt.Equal(parsed.CreatedAt))
	require.Equal(t, original.ID, parsed.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, cursor)

	_, err = ParseCursor("!!!")
	require.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{}) + "x")
	require.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(500))
	require.Equal(t, 10, NormalizeLimit(10))
	require.Equal(t, 11, LimitWithBuffer(10))
}

func TestBuildPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 3)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page := BuildPage(rows, 2, identity)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	require.Equal(t, rows[1].ID, next.ID)

	last := BuildPage(rows[:2], 2, identity)
	require.Len(t, last.Items, 2)
	require.Empty(t, last.NextCursor)

	empty := BuildPage[Cursor](nil, 2, identity)
	require.NotNil(t, empty.Items)
}
