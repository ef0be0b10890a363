package catalog_test

import (
	"testing"
	"time"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"github.com/stretchr/testify/assert"
)

func TestItem_String(t *testing.T) {
	item := catalog.Item{ID: 3, Title: "Alien", Author: "Ridley Scott", Year: 1979, Genre: "Film"}
	assert.Equal(t, "3 - Alien (Ridley Scott, 1979) - Film", item.String())
}

func TestItemUpdate_Empty(t *testing.T) {
	assert.True(t, catalog.ItemUpdate{}.Empty())
	assert.True(t, catalog.ItemUpdate{Title: strPtr(""), Year: intPtr(0)}.Empty())
	assert.False(t, catalog.ItemUpdate{Year: intPtr(-300)}.Empty())
	assert.False(t, catalog.ItemUpdate{Details: strPtr(" ")}.Empty())
}

func TestItem_Validate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := catalog.Item{Title: "Dune", Author: "Frank Herbert", Year: 1965, Genre: "Sci-Fi"}

	assert.NoError(t, valid.Validate(now))

	tests := []struct {
		name   string
		mutate func(*catalog.Item)
		want   string
	}{
		{name: "missing title", mutate: func(i *catalog.Item) { i.Title = "  " }, want: "title is required"},
		{name: "missing author", mutate: func(i *catalog.Item) { i.Author = "" }, want: "author is required"},
		{name: "missing genre", mutate: func(i *catalog.Item) { i.Genre = "" }, want: "genre is required"},
		{name: "year too old", mutate: func(i *catalog.Item) { i.Year = 999 }, want: "year must be between 1000 and 2036"},
		{name: "year too far ahead", mutate: func(i *catalog.Item) { i.Year = 2037 }, want: "year must be between 1000 and 2036"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := valid
			tt.mutate(&item)
			err := item.Validate(now)
			assert.ErrorIs(t, err, catalog.ErrValidation)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("boundaries are inclusive", func(t *testing.T) {
		item := valid
		item.Year = 2036
		assert.NoError(t, item.Validate(now))
		item.Year = 1000
		assert.NoError(t, item.Validate(now))
	})
}
