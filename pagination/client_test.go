package pagination

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/always-cache/bookcache/pkg/books"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedCatalogue(t *testing.T) *HTTPCatalogue {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewHTTPCatalogue("http://books.test/", client)
}

func TestHTTPCatalogue(t *testing.T) {
	ctx := context.Background()
	c := newMockedCatalogue(t)
	httpmock.RegisterResponder("GET", "http://books.test/api/countbooks",
		httpmock.NewStringResponder(200, "37"))
	httpmock.RegisterResponder("GET", "http://books.test/api/books/15",
		httpmock.NewStringResponder(200, `[{"book_id":16,"book_title":"Emma","book_cover_url":"/covers/16.jpg","author_name":"Jane Austen"}]`))
	httpmock.RegisterResponder("GET", "http://books.test/api/genres/Science%20Fiction",
		httpmock.NewStringResponder(200, `[{"book_id":2,"book_title":"Dune","genre_name":"Science Fiction"}]`))

	total, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 37, total)

	page, err := c.Page(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, []books.Book{{ID: 16, Title: "Emma", CoverURL: "/covers/16.jpg", Author: "Jane Austen"}}, page)

	list, err := c.ByGenre(ctx, "Science Fiction")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Dune", list[0].Title)
}

func TestHTTPCatalogueStatusError(t *testing.T) {
	c := newMockedCatalogue(t)
	httpmock.RegisterResponder("GET", "http://books.test/api/genres",
		httpmock.NewStringResponder(408, "Network error happened"))

	_, err := c.Genres(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 408, statusErr.StatusCode)
}
