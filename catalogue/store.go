// Package catalogue is the origin of the book catalogue: the relational
// store of books, authors and genres, and the HTTP server in front of it.
package catalogue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/always-cache/bookcache/pkg/books"

	// database/sql drivers of the supported dialects
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect is the SQL flavour of the database, named after its driver.
type Dialect string

const (
	// SQLite is the embedded, file-backed database.
	SQLite Dialect = "sqlite"
	// Postgres is a hosted PostgreSQL service.
	Postgres Dialect = "pgx"
)

var (
	// ErrNotFound is returned when a book does not exist.
	ErrNotFound = errors.New("book not found")
	// ErrInvalid is returned for books missing required fields.
	ErrInvalid = errors.New("invalid book")
)

// MaxGenres is the number of genres a book can have.
const MaxGenres = 3

// DefaultGenres are seeded into an empty genres table.
var DefaultGenres = []string{
	"Classics", "Fantasy", "Science Fiction", "Thriller", "Romance",
	"Mystery", "Biography", "Memoir", "Autobiography", "Self-Help",
	"Business", "Nonfiction", "Young Adult", "Historical Fiction", "Drama",
	"Poetry", "Philosophy", "Finance", "Psychology", "Horror",
	"Action", "Adventure", "Dystopian", "Humour", "Graphic Novels",
	"Religion",
}

// NewBook is the input of CreateBook.
type NewBook struct {
	Title       string
	CoverURL    string
	Description string
	Author      string
	GenreIDs    []int
}

// BookUpdate is the input of UpdateBook.
type BookUpdate struct {
	Title       string `json:"book_title"`
	CoverURL    string `json:"book_cover_url"`
	Description string `json:"book_description"`
}

// Store reads and writes the catalogue tables.
// It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and prepares the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	switch dialect {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// writes are serialized by SQLite anyway
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		id = "SERIAL PRIMARY KEY"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS books (
			book_id ` + id + `,
			book_title TEXT NOT NULL,
			book_cover_url TEXT NOT NULL,
			book_description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			author_id ` + id + `,
			author_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS genres (
			genre_id ` + id + `,
			genre_name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS BooksToAuthors (
			author_id INTEGER REFERENCES authors(author_id),
			book_id INTEGER REFERENCES books(book_id),
			PRIMARY KEY (author_id, book_id)
		)`,
		`CREATE TABLE IF NOT EXISTS GenresToBooks (
			book_id INTEGER REFERENCES books(book_id),
			genre_id INTEGER REFERENCES genres(genre_id),
			PRIMARY KEY (book_id, genre_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return s.seedGenres(ctx)
}

func (s *Store) seedGenres(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM genres").Scan(&count); err != nil {
		return fmt.Errorf("count genres: %w", err)
	}
	if count > 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, name := range DefaultGenres {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO genres (genre_name) VALUES (?)"), name); err != nil {
			return fmt.Errorf("seed genre %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// rebind rewrites `?` placeholders to `$n` for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// distinctList aggregates the distinct values of a column into a comma
// separated list.
func (s *Store) distinctList(column string) string {
	if s.dialect == Postgres {
		return "string_agg(DISTINCT " + column + ", ',')"
	}
	return "group_concat(DISTINCT " + column + ")"
}

func (s *Store) list(column, separator string) string {
	if s.dialect == Postgres {
		return "string_agg(" + column + ", '" + separator + "')"
	}
	return "group_concat(" + column + ", '" + separator + "')"
}

// bookQuery selects books with their genres and authors.
// where and suffix are inserted around the grouping.
func (s *Store) bookQuery(where, suffix string) string {
	return s.rebind(`SELECT
			books.book_id,
			books.book_title,
			books.book_cover_url,
			COALESCE(books.book_description, ''),
			COALESCE(` + s.distinctList("genres.genre_name") + `, ''),
			COALESCE(` + s.distinctList("authors.author_name") + `, '')
		FROM books
		LEFT JOIN GenresToBooks ON books.book_id = GenresToBooks.book_id
		LEFT JOIN genres ON GenresToBooks.genre_id = genres.genre_id
		LEFT JOIN BooksToAuthors ON books.book_id = BooksToAuthors.book_id
		LEFT JOIN authors ON BooksToAuthors.author_id = authors.author_id
		` + where + `
		GROUP BY books.book_id, books.book_title, books.book_cover_url, books.book_description
		ORDER BY books.book_id
		` + suffix)
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...any) ([]books.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]books.Book, 0)
	for rows.Next() {
		var b books.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.CoverURL, &b.Description, &b.Genres, &b.Author); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// CountBooks returns the number of books.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM books").Scan(&total)
	return total, err
}

// Books returns at most limit books, starting at offset, ordered by id.
func (s *Store) Books(ctx context.Context, offset, limit int) ([]books.Book, error) {
	return s.queryBooks(ctx, s.bookQuery("", "LIMIT ? OFFSET ?"), limit, offset)
}

func (s *Store) AllBooks(ctx context.Context) ([]books.Book, error) {
	return s.queryBooks(ctx, s.bookQuery("", ""))
}

func (s *Store) Book(ctx context.Context, id int) (books.Book, error) {
	list, err := s.queryBooks(ctx, s.bookQuery("WHERE books.book_id = ?", ""), id)
	if err != nil {
		return books.Book{}, err
	}
	if len(list) == 0 {
		return books.Book{}, ErrNotFound
	}
	return list[0], nil
}

// BooksByGenre returns the books having the genre, with all of their genres.
func (s *Store) BooksByGenre(ctx context.Context, genre string) ([]books.Book, error) {
	return s.queryBooks(ctx, s.bookQuery(`WHERE EXISTS (
			SELECT 1 FROM GenresToBooks g2b
			JOIN genres g ON g2b.genre_id = g.genre_id
			WHERE g2b.book_id = books.book_id AND g.genre_name = ?
		)`, ""), genre)
}

func (s *Store) Genres(ctx context.Context) ([]books.Genre, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT genre_id, genre_name FROM genres ORDER BY genre_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	genres := make([]books.Genre, 0)
	for rows.Next() {
		var g books.Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// SearchIndex returns every book as "title, by author".
func (s *Store) SearchIndex(ctx context.Context) ([]books.SearchEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
			books.book_id,
			books.book_title || ', by ' || COALESCE(`+s.list("authors.author_name", ", ")+`, '')
		FROM books
		LEFT JOIN BooksToAuthors ON books.book_id = BooksToAuthors.book_id
		LEFT JOIN authors ON BooksToAuthors.author_id = authors.author_id
		GROUP BY books.book_id, books.book_title
		ORDER BY books.book_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	index := make([]books.SearchEntry, 0)
	for rows.Next() {
		var e books.SearchEntry
		if err := rows.Scan(&e.BookID, &e.BookAndAuthor); err != nil {
			return nil, err
		}
		index = append(index, e)
	}
	return index, rows.Err()
}

// CreateBook adds a book with its author and genres and returns its id.
// Authors are reused if the name matches ignoring case.
func (s *Store) CreateBook(ctx context.Context, nb NewBook) (int, error) {
	nb.Title = strings.TrimSpace(nb.Title)
	nb.Author = strings.TrimSpace(nb.Author)
	if nb.Title == "" || nb.Author == "" {
		return 0, fmt.Errorf("%w: title and author are required", ErrInvalid)
	}
	if len(nb.GenreIDs) == 0 || len(nb.GenreIDs) > MaxGenres {
		return 0, fmt.Errorf("%w: between 1 and %d genres are required", ErrInvalid, MaxGenres)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var bookID int
	err = tx.QueryRowContext(ctx,
		s.rebind("INSERT INTO books (book_title, book_cover_url, book_description) VALUES (?, ?, ?) RETURNING book_id"),
		nb.Title, nb.CoverURL, nb.Description,
	).Scan(&bookID)
	if err != nil {
		return 0, fmt.Errorf("insert book: %w", err)
	}

	authorID, err := s.authorID(ctx, tx, nb.Author)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind("INSERT INTO BooksToAuthors (author_id, book_id) VALUES (?, ?)"),
		authorID, bookID,
	); err != nil {
		return 0, fmt.Errorf("link author: %w", err)
	}

	seen := map[int]bool{}
	for _, genreID := range nb.GenreIDs {
		if seen[genreID] {
			continue
		}
		seen[genreID] = true
		if _, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO GenresToBooks (book_id, genre_id) VALUES (?, ?)"),
			bookID, genreID,
		); err != nil {
			return 0, fmt.Errorf("link genre %d: %w", genreID, err)
		}
	}
	return bookID, tx.Commit()
}

func (s *Store) authorID(ctx context.Context, tx *sql.Tx, name string) (int, error) {
	var id int
	err := tx.QueryRowContext(ctx,
		s.rebind("SELECT author_id FROM authors WHERE LOWER(author_name) = LOWER(?) ORDER BY author_id LIMIT 1"),
		name,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find author: %w", err)
	}
	err = tx.QueryRowContext(ctx,
		s.rebind("INSERT INTO authors (author_name) VALUES (?) RETURNING author_id"),
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert author: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateBook(ctx context.Context, id int, u BookUpdate) error {
	if strings.TrimSpace(u.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE books SET book_title = ?, book_cover_url = ?, book_description = ? WHERE book_id = ?"),
		strings.TrimSpace(u.Title), u.CoverURL, u.Description, id,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return notFoundIfUnaffected(res)
}

// DeleteBook removes a book and its genre and author links.
func (s *Store) DeleteBook(ctx context.Context, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		"DELETE FROM GenresToBooks WHERE book_id = ?",
		"DELETE FROM BooksToAuthors WHERE book_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), id); err != nil {
			return fmt.Errorf("delete book links: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM books WHERE book_id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if err := notFoundIfUnaffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func notFoundIfUnaffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
