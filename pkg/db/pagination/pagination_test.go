package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id string
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{id: "a"}, {id: "b"}, {id: "c"}}

	page, info, err := BuildCursorPageInfo(rows, 2, func(r *row) Cursor {
		return Cursor{ID: r.id}
	})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.ID)
}

func TestBuildCursorPageInfoLastPage(t *testing.T) {
	rows := []*row{{id: "a"}}

	page, info, err := BuildCursorPageInfo(rows, 2, func(r *row) Cursor {
		return Cursor{ID: r.id}
	})
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}
