package catalogue

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/always-cache/bookcache/pkg/books"
	cacheupdate "github.com/always-cache/bookcache/pkg/cache-update"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()
	store := openSQLite(t)
	covers, err := NewDirCoverStorage(t.TempDir(), "/covers")
	require.NoError(t, err)
	return NewServer(store, covers, zerolog.Nop()), store
}

func serve(s http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func addBookForm(t *testing.T, fields map[string]string, cover string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if cover != "" {
		fw, err := mw.CreateFormFile("bookcover", cover)
		require.NoError(t, err)
		fw.Write([]byte("jpeg bytes"))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func cacheUpdates(w *httptest.ResponseRecorder) []string {
	var targets []string
	for _, target := range strings.Split(w.Header().Get(cacheupdate.HeaderName), ",") {
		if target = strings.TrimSpace(target); target != "" {
			targets = append(targets, target)
		}
	}
	return targets
}

func TestAddBook(t *testing.T) {
	s, _ := newTestServer(t)

	body, contentType := addBookForm(t, map[string]string{
		"book_title":       "Dune",
		"author_name":      "Frank Herbert",
		"book_description": "Spice",
		"genres":           "3, 22",
	}, "dune.jpg")
	r := httptest.NewRequest("POST", "/api/addbook", body)
	r.Header.Set("Content-Type", contentType)
	w := serve(s, r)

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/catalogue", w.Header().Get("Location"))
	assert.ElementsMatch(t, []string{
		"/book/1", "/api/book/1", "/api/books", "/api/bookswithauthors",
		"/api/genres/Science%20Fiction", "/api/genres/Adventure",
	}, cacheUpdates(w))

	w = serve(s, httptest.NewRequest("GET", "/api/book/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var book books.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	assert.Equal(t, "Dune", book.Title)
	assert.True(t, strings.HasPrefix(book.CoverURL, "/covers/"), book.CoverURL)
	assert.True(t, strings.HasSuffix(book.CoverURL, "-dune.jpg"), book.CoverURL)

	w = serve(s, httptest.NewRequest("GET", book.CoverURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg bytes", w.Body.String())

	w = serve(s, httptest.NewRequest("GET", "/api/countbooks", nil))
	assert.Equal(t, "1", strings.TrimSpace(w.Body.String()))

	w = serve(s, httptest.NewRequest("GET", "/api/genres/Science%20Fiction", nil))
	var list []books.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].ID)
}

func TestAddBookJSONClient(t *testing.T) {
	s, _ := newTestServer(t)

	body, contentType := addBookForm(t, map[string]string{
		"book_title":     "Emma",
		"author_name":    "Jane Austen",
		"book_cover_url": "https://covers.test/emma.jpg",
		"genres":         "1",
	}, "")
	r := httptest.NewRequest("POST", "/api/addbook", body)
	r.Header.Set("Content-Type", contentType)
	r.Header.Set("Accept", "application/json")
	w := serve(s, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"book_id":1}`, w.Body.String())
}

func TestAddBookInvalid(t *testing.T) {
	s, store := newTestServer(t)

	body, contentType := addBookForm(t, map[string]string{"book_title": "No genres", "author_name": "A"}, "")
	r := httptest.NewRequest("POST", "/api/addbook", body)
	r.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, serve(s, r).Code)

	body, contentType = addBookForm(t, map[string]string{"book_title": "T", "author_name": "A", "genres": "one"}, "")
	r = httptest.NewRequest("POST", "/api/addbook", body)
	r.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, serve(s, r).Code)

	total, err := store.CountBooks(r.Context())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestUpdateAndDeleteBook(t *testing.T) {
	s, store := newTestServer(t)
	ids := addBooks(t, store, 2)

	r := httptest.NewRequest("PUT", "/api/book/2", strings.NewReader(`{"book_title":"Renamed","book_cover_url":"/covers/new.jpg"}`))
	r.Header.Set("Content-Type", "application/json")
	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"/book/2", "/api/book/2", "/api/books", "/api/bookswithauthors", "/api/genres/Classics"}, cacheUpdates(w))
	book, err := store.Book(r.Context(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, "Renamed", book.Title)

	w = serve(s, httptest.NewRequest("DELETE", "/api/book/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	// the genres of the deleted book are still named
	assert.Equal(t, []string{"/book/1", "/api/book/1", "/api/books", "/api/bookswithauthors", "/api/genres/Classics"}, cacheUpdates(w))

	w = serve(s, httptest.NewRequest("DELETE", "/api/book/1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get(cacheupdate.HeaderName))

	assert.Equal(t, http.StatusBadRequest, serve(s, httptest.NewRequest("DELETE", "/api/book/abc", nil)).Code)
}

func TestBooksPageEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	addBooks(t, store, 20)

	w := serve(s, httptest.NewRequest("GET", "/api/books/15", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var page []books.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 5)

	w = serve(s, httptest.NewRequest("GET", "/api/books/30", nil))
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, serve(s, httptest.NewRequest("GET", "/api/books/-1", nil)).Code)

	w = serve(s, httptest.NewRequest("GET", "/api/bookswithauthors", nil))
	var index []books.SearchEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &index))
	assert.Len(t, index, 20)
}

func TestPages(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateBook(t.Context(), NewBook{Title: "Emma <1815>", Author: "Jane Austen", GenreIDs: []int{1}})
	require.NoError(t, err)

	for path, want := range map[string]string{
		"/":                    "Bibliography",
		"/catalogue":           "Next 15 books",
		"/add":                 `action="/api/addbook"`,
		"/views/fallback.html": "You are offline",
		"/views/index.html":    "Bibliography",
		"/styles/main.css":     "font-family",
		"/book/1":              "Emma &lt;1815&gt;",
	} {
		t.Run(path, func(t *testing.T) {
			w := serve(s, httptest.NewRequest("GET", path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), want)
		})
	}

	assert.Equal(t, http.StatusNotFound, serve(s, httptest.NewRequest("GET", "/book/2", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(s, httptest.NewRequest("GET", "/views/missing.html", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest("GET", "/img/bibliography_512x512.png", nil)).Code)
}

func TestUploadCover(t *testing.T) {
	s, _ := newTestServer(t)

	body, contentType := addBookForm(t, nil, "shoe-dog.png")
	r := httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("Content-Type", contentType)
	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code)
	var uploaded struct {
		Image string `json:"image"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))
	assert.True(t, strings.HasSuffix(uploaded.Image, "-shoe-dog.png"), uploaded.Image)
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest("GET", uploaded.Image, nil)).Code)

	// a second upload with the same name keeps the first one
	body, contentType = addBookForm(t, nil, "shoe-dog.png")
	r = httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("Content-Type", contentType)
	w = serve(s, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), uploaded.Image)

	body, contentType = addBookForm(t, map[string]string{"title": "x"}, "")
	r = httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, serve(s, r).Code)
}
