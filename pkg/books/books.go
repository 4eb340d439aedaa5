// Package books holds the JSON shapes of the catalogue API.
package books

// Book is a catalogue row. Genres and authors are aggregated into
// comma separated lists, the way the catalogue queries return them.
type Book struct {
	ID          int    `json:"book_id"`
	Title       string `json:"book_title"`
	CoverURL    string `json:"book_cover_url"`
	Description string `json:"book_description,omitempty"`
	Genres      string `json:"genre_name,omitempty"`
	Author      string `json:"author_name"`
}

type Genre struct {
	ID   int    `json:"genre_id"`
	Name string `json:"genre_name"`
}

// SearchEntry is one row of the flattened search index,
// e.g. "Dune, by Frank Herbert".
type SearchEntry struct {
	BookID        int    `json:"book_id"`
	BookAndAuthor string `json:"book_and_author"`
}
