package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/bookcache/pkg/books"
)

// Catalogue is the read API the browser drives.
type Catalogue interface {
	Page(ctx context.Context, offset int) ([]books.Book, error)
	Count(ctx context.Context) (int, error)
	Genres(ctx context.Context) ([]books.Genre, error)
	ByGenre(ctx context.Context, genre string) ([]books.Book, error)
	SearchIndex(ctx context.Context) ([]books.SearchEntry, error)
}

// StatusError is returned for responses other than 200 OK.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// HTTPCatalogue reads the catalogue API. Requests go through Client,
// so a worker used as its transport intercepts them.
type HTTPCatalogue struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPCatalogue(baseURL string, client *http.Client) *HTTPCatalogue {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCatalogue{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  client,
	}
}

func (c *HTTPCatalogue) Page(ctx context.Context, offset int) ([]books.Book, error) {
	var page []books.Book
	err := c.getJSON(ctx, fmt.Sprintf("/api/books/%d", offset), &page)
	return page, err
}

// Count reads the total number of books, a bare JSON integer.
func (c *HTTPCatalogue) Count(ctx context.Context) (int, error) {
	var total int
	err := c.getJSON(ctx, "/api/countbooks", &total)
	return total, err
}

func (c *HTTPCatalogue) Genres(ctx context.Context) ([]books.Genre, error) {
	var genres []books.Genre
	err := c.getJSON(ctx, "/api/genres", &genres)
	return genres, err
}

func (c *HTTPCatalogue) ByGenre(ctx context.Context, genre string) ([]books.Book, error) {
	var list []books.Book
	err := c.getJSON(ctx, "/api/genres/"+url.PathEscape(genre), &list)
	return list, err
}

func (c *HTTPCatalogue) SearchIndex(ctx context.Context) ([]books.SearchEntry, error) {
	var index []books.SearchEntry
	err := c.getJSON(ctx, "/api/bookswithauthors", &index)
	return index, err
}

func (c *HTTPCatalogue) getJSON(ctx context.Context, path string, v any) error {
	target := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &StatusError{URL: target, StatusCode: res.StatusCode}
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
