// Package pagination holds the client-side browsing state of the catalogue:
// the page offset, the genre filter and the navigation buttons.
package pagination

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/always-cache/bookcache/pkg/books"
)

// View renders the browsing state.
type View interface {
	RenderBooks(list []books.Book)
	SetButtons(buttons Buttons)
	// HighlightGenre marks the active genre; an empty name clears it.
	HighlightGenre(name string)
	ScrollToTop()
}

// Browser tracks the page offset and the genre filter.
// It is safe for concurrent use; actions run one at a time.
type Browser struct {
	catalogue Catalogue
	view      View
	size      int

	mu      sync.Mutex
	offset  int
	total   int
	genre   string
	buttons Buttons
}

func NewBrowser(catalogue Catalogue, view View) *Browser {
	return &Browser{
		catalogue: catalogue,
		view:      view,
		size:      PageSize,
	}
}

// Load shows the first unfiltered page.
func (b *Browser) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.genre = ""
	return b.show(ctx, 0)
}

// NextPage moves one page forward. It does nothing while "next" is disabled.
func (b *Browser) NextPage(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.genre != "" || !b.buttons.Next.Enabled {
		return nil
	}
	if err := b.show(ctx, b.offset+b.size); err != nil {
		return err
	}
	b.view.ScrollToTop()
	return nil
}

// PreviousPage moves one page back, stopping at the first page.
func (b *Browser) PreviousPage(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.genre != "" {
		return nil
	}
	offset := b.offset - b.size
	if offset < 0 {
		offset = 0
	}
	if err := b.show(ctx, offset); err != nil {
		return err
	}
	b.view.ScrollToTop()
	return nil
}

// SelectGenre shows the books of one genre. The genre view is not paginated.
func (b *Browser) SelectGenre(ctx context.Context, genre string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, err := b.catalogue.ByGenre(ctx, genre)
	if err != nil {
		return fmt.Errorf("load genre %s: %w", genre, err)
	}
	b.genre = genre
	b.buttons = Buttons{}
	b.view.RenderBooks(list)
	b.view.SetButtons(b.buttons)
	b.view.HighlightGenre(genre)
	return nil
}

// ClearFilter returns to the unfiltered catalogue at the first page.
func (b *Browser) ClearFilter(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.genre = ""
	b.view.HighlightGenre("")
	return b.show(ctx, 0)
}

// show loads the page at offset with the current count.
// The state is left unchanged if either request fails.
func (b *Browser) show(ctx context.Context, offset int) error {
	list, err := b.catalogue.Page(ctx, offset)
	if err != nil {
		return fmt.Errorf("load page %d: %w", offset, err)
	}
	total, err := b.catalogue.Count(ctx)
	if err != nil {
		return fmt.Errorf("load count: %w", err)
	}
	b.offset = offset
	b.total = total
	b.buttons = ButtonsFor(offset, total, b.size)
	b.view.RenderBooks(list)
	b.view.SetButtons(b.buttons)
	return nil
}

func (b *Browser) Offset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

func (b *Browser) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Genre returns the active genre filter, empty if none.
func (b *Browser) Genre() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.genre
}

func (b *Browser) Buttons() Buttons {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buttons
}

// Search returns the index entries containing query, ignoring case.
// An empty query matches nothing.
func (b *Browser) Search(ctx context.Context, query string) ([]books.SearchEntry, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	index, err := b.catalogue.SearchIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load search index: %w", err)
	}
	var results []books.SearchEntry
	for _, entry := range index {
		if strings.Contains(strings.ToLower(entry.BookAndAuthor), query) {
			results = append(results, entry)
		}
	}
	return results, nil
}
