package catalogue

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/bookcache/pkg/books"
	cacheupdate "github.com/always-cache/bookcache/pkg/cache-update"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

//go:embed static
var staticFiles embed.FS

//go:embed templates/book.html
var bookTemplate string

// PageSize is the number of books per page of /api/books/{offset}.
const PageSize = 15

// maxUploadSize bounds the multipart form of a new book, cover included.
const maxUploadSize = 10 << 20

// Server is the HTTP origin of the catalogue.
type Server struct {
	store  *Store
	covers CoverStorage
	log    zerolog.Logger
	book   *template.Template
	router chi.Router
}

func NewServer(store *Store, covers CoverStorage, logger zerolog.Logger) *Server {
	s := &Server{
		store:  store,
		covers: covers,
		log:    logger,
		book:   template.Must(template.New("book").Parse(bookTemplate)),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	assets := http.FileServer(http.FS(static))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))

	r.Get("/", s.page(static, "views/index.html"))
	r.Get("/catalogue", s.page(static, "views/catalogue.html"))
	r.Get("/add", s.page(static, "views/add.html"))
	r.Get("/book/{id}", s.getBookPage)
	r.Get("/views/{name}", func(w http.ResponseWriter, r *http.Request) {
		s.page(static, "views/"+chi.URLParam(r, "name"))(w, r)
	})
	for _, dir := range []string{"/styles/*", "/scripts/*", "/img/*"} {
		r.Handle(dir, assets)
	}
	if dc, ok := s.covers.(DirCoverStorage); ok {
		r.Handle(strings.TrimSuffix(dc.BaseURL, "/")+"/*", dc.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/books", s.getAllBooks)
		r.Get("/books/{offset}", s.getBooks)
		r.Get("/countbooks", s.getCount)
		r.Get("/genres", s.getGenres)
		r.Get("/genres/{name}", s.getBooksByGenre)
		r.Get("/bookswithauthors", s.getSearchIndex)
		r.Get("/book/{id}", s.getBook)
		r.Post("/addbook", s.addBook)
		r.Put("/book/{id}", s.updateBook)
		r.Delete("/book/{id}", s.deleteBook)
		r.Post("/upload", s.uploadCover)
	})
	return r
}

func (s *Server) page(static fs.FS, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fs.ReadFile(static, name)
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(b)
	}
}

func (s *Server) getBookPage(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := s.store.Book(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.book.Execute(w, book); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not render book page")
	}
}

func (s *Server) getAllBooks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.AllBooks(r.Context())
	s.respond(w, r, list, err)
}

func (s *Server) getBooks(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.Atoi(chi.URLParam(r, "offset"))
	if err != nil || offset < 0 {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}
	list, err := s.store.Books(r.Context(), offset, PageSize)
	s.respond(w, r, list, err)
}

// getCount answers with the bare number of books.
func (s *Server) getCount(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.CountBooks(r.Context())
	s.respond(w, r, total, err)
}

func (s *Server) getGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := s.store.Genres(r.Context())
	s.respond(w, r, genres, err)
}

func (s *Server) getBooksByGenre(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.BooksByGenre(r.Context(), chi.URLParam(r, "name"))
	s.respond(w, r, list, err)
}

func (s *Server) getSearchIndex(w http.ResponseWriter, r *http.Request) {
	index, err := s.store.SearchIndex(r.Context())
	s.respond(w, r, index, err)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := s.store.Book(r.Context(), id)
	s.respond(w, r, book, err)
}

// addBook creates a book from a multipart form with an optional
// `bookcover` file. Browsers are redirected to the catalogue.
func (s *Server) addBook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	genreIDs, err := parseGenreIDs(r.FormValue("genres"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	coverURL := r.FormValue("book_cover_url")
	if file, header, err := r.FormFile("bookcover"); err == nil {
		defer file.Close()
		coverURL, err = s.covers.Save(r.Context(), header.Filename, file)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	id, err := s.store.CreateBook(r.Context(), NewBook{
		Title:       r.FormValue("book_title"),
		CoverURL:    coverURL,
		Description: r.FormValue("book_description"),
		Author:      r.FormValue("author_name"),
		GenreIDs:    genreIDs,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Int("book", id).Msg("Added book")
	setCacheUpdates(w, s.affected(r, id))
	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, map[string]int{"book_id": id})
		return
	}
	http.Redirect(w, r, "/catalogue", http.StatusSeeOther)
}

// updateBook accepts a JSON body or a form.
func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var u BookUpdate
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	} else {
		u = BookUpdate{
			Title:       r.FormValue("book_title"),
			CoverURL:    r.FormValue("book_cover_url"),
			Description: r.FormValue("book_description"),
		}
	}
	if err := s.store.UpdateBook(r.Context(), id, u); err != nil {
		s.fail(w, r, err)
		return
	}
	setCacheUpdates(w, s.affected(r, id))
	writeJSON(w, http.StatusOK, map[string]int{"book_id": id})
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	// the genres are gone with the book, load them first
	book, err := s.store.Book(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteBook(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Int("book", id).Msg("Deleted book")
	setCacheUpdates(w, book)
	writeJSON(w, http.StatusOK, map[string]int{"book_id": id})
}

func (s *Server) uploadCover(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("bookcover")
	if err != nil {
		http.Error(w, "Please upload a file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	coverURL, err := s.covers.Save(r.Context(), header.Filename, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image": coverURL})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// fail maps store errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// affected loads a changed book for its cache updates.
// If it cannot be loaded, only the id based targets are named.
func (s *Server) affected(r *http.Request, id int) books.Book {
	book, err := s.store.Book(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int("book", id).Msg("Could not load book for cache updates")
		return books.Book{ID: id}
	}
	return book
}

// setCacheUpdates names the resources a mutation of the book changed
// besides the catalogue pages: the book itself, the full listings and the
// listing of each of its genres.
func setCacheUpdates(w http.ResponseWriter, book books.Book) {
	targets := []string{
		fmt.Sprintf("/book/%d", book.ID),
		fmt.Sprintf("/api/book/%d", book.ID),
		"/api/books",
		"/api/bookswithauthors",
	}
	for _, genre := range strings.Split(book.Genres, ",") {
		if genre = strings.TrimSpace(genre); genre != "" {
			targets = append(targets, "/api/genres/"+url.PathEscape(genre))
		}
	}
	w.Header().Add(cacheupdate.HeaderName, strings.Join(targets, ", "))
}

func bookID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		http.Error(w, "invalid book id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// parseGenreIDs parses a comma separated list of genre ids.
func parseGenreIDs(value string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid genre id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
