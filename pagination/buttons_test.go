package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestButtonsHiddenForSinglePage(t *testing.T) {
	for _, total := range []int{0, 1, 15} {
		buttons := ButtonsFor(0, total, PageSize)
		assert.False(t, buttons.Next.Visible, "next for %d books", total)
		assert.False(t, buttons.Previous.Visible, "previous for %d books", total)
	}
}

func TestButtonsFor(t *testing.T) {
	tests := []struct {
		name     string
		offset   int
		total    int
		next     Button
		previous Button
	}{
		{
			name:     "first page with one book remaining",
			offset:   0,
			total:    16,
			next:     Button{Visible: true, Enabled: true, Label: "Next 1 book"},
			previous: Button{Visible: true, Label: "You are on the first page"},
		},
		{
			name:     "first page of many",
			offset:   0,
			total:    100,
			next:     Button{Visible: true, Enabled: true, Label: "Next 15 books"},
			previous: Button{Visible: true, Label: "You are on the first page"},
		},
		{
			name:     "middle page",
			offset:   15,
			total:    100,
			next:     Button{Visible: true, Enabled: true, Label: "Next 15 books"},
			previous: Button{Visible: true, Enabled: true, Label: "Previous 15 books"},
		},
		{
			name:     "trailing partial page ahead",
			offset:   15,
			total:    37,
			next:     Button{Visible: true, Enabled: true, Label: "Next 7 books"},
			previous: Button{Visible: true, Enabled: true, Label: "Previous 15 books"},
		},
		{
			name:     "last page",
			offset:   30,
			total:    37,
			next:     Button{Visible: true, Label: "No more books"},
			previous: Button{Visible: true, Enabled: true, Label: "Previous 15 books"},
		},
		{
			name:     "last full page",
			offset:   15,
			total:    30,
			next:     Button{Visible: true, Label: "No more books"},
			previous: Button{Visible: true, Enabled: true, Label: "Previous 15 books"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buttons := ButtonsFor(tt.offset, tt.total, PageSize)
			assert.Equal(t, tt.next, buttons.Next)
			assert.Equal(t, tt.previous, buttons.Previous)
		})
	}
}
