package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", defaultPageLimit, 0},
		{"custom limit", "limit=20", 20, 0},
		{"custom offset", "offset=10", defaultPageLimit, 10},
		{"limit exceeds max", "limit=5000", maxPageLimit, 0},
		{"negative limit uses default", "limit=-1", defaultPageLimit, 0},
		{"negative offset uses zero", "offset=-5", defaultPageLimit, 0},
		{"non-numeric", "limit=abc&offset=xyz", defaultPageLimit, 0},
		{"zero limit uses default", "limit=0", defaultPageLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/admin/attempts?"+tt.query, nil)
			limit, offset := parsePagination(r)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, meta := paginate(httptest.NewRequest("GET", "/?limit=2&offset=1", nil), items)
	assert.Equal(t, []int{2, 3}, page)
	assert.Equal(t, PaginationMeta{TotalCount: 5, Limit: 2, Offset: 1, HasMore: true}, meta)

	page, meta = paginate(httptest.NewRequest("GET", "/?limit=2&offset=4", nil), items)
	assert.Equal(t, []int{5}, page)
	assert.False(t, meta.HasMore)

	page, meta = paginate(httptest.NewRequest("GET", "/?offset=99", nil), items)
	assert.NotNil(t, page)
	assert.Empty(t, page)
	assert.False(t, meta.HasMore)
}
