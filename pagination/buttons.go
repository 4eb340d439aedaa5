package pagination

import "fmt"

// PageSize is the number of books per catalogue page.
const PageSize = 15

type Button struct {
	Visible bool
	Enabled bool
	Label   string
}

// Buttons is the state of the catalogue navigation controls.
type Buttons struct {
	Next     Button
	Previous Button
}

const (
	labelNoMoreBooks = "No more books"
	labelFirstPage   = "You are on the first page"
)

// ButtonsFor returns the navigation state for a page at offset of a
// catalogue with total books.
func ButtonsFor(offset, total, size int) Buttons {
	if size <= 0 {
		size = PageSize
	}
	// everything fits on one page
	if total <= size {
		return Buttons{}
	}

	previous := Button{Visible: true, Enabled: true, Label: fmt.Sprintf("Previous %d books", size)}
	if offset <= 0 {
		previous = Button{Visible: true, Label: labelFirstPage}
	}

	remaining := total - offset - size
	next := Button{Visible: true}
	switch {
	case remaining <= 0:
		next.Label = labelNoMoreBooks
	case remaining >= size:
		next.Enabled = true
		next.Label = fmt.Sprintf("Next %d books", size)
	default:
		next.Enabled = true
		next.Label = nextLabel(remaining)
	}
	return Buttons{Next: next, Previous: previous}
}

func nextLabel(n int) string {
	if n == 1 {
		return "Next 1 book"
	}
	return fmt.Sprintf("Next %d books", n)
}
