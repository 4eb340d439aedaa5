// Command bookshelf browses the catalogue from a terminal. Requests go
// through an embedded bookcache worker, so pages seen once stay readable
// while the origin is offline.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/always-cache/bookcache"
	"github.com/always-cache/bookcache/cache"
	"github.com/always-cache/bookcache/pagination"
	"github.com/always-cache/bookcache/pkg/books"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	originFlag  string
	dbFlag      string
	verboseFlag bool
)

func init() {
	flag.StringVar(&originFlag, "origin", "http://localhost:5000", "Catalogue origin URL")
	flag.StringVar(&dbFlag, "db", "bookshelf.db", "Cache DB: file name, 'memory' or a redis:// URL")
	flag.BoolVar(&verboseFlag, "v", false, "Log cache activity to stderr")
}

const help = `commands:
  next, prev         page through the catalogue
  genres             list genres
  genre <name>       show the books of a genre
  clear              clear the genre filter
  search <query>     search titles and authors
  sync               refresh every cached page
  quit`

func main() {
	flag.Parse()

	logLevel := zerolog.WarnLevel
	if verboseFlag {
		logLevel = zerolog.DebugLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stderr})

	originURL, err := url.Parse(originFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}
	store, closer, err := cache.Open(dbFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open cache")
	}
	defer closer.Close()

	worker, err := bookcache.CreateWorker(bookcache.Config{
		Store:     store,
		OriginURL: *originURL,
		Logger:    &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot create worker")
	}
	defer worker.Stop()

	ctx := context.Background()
	worker.OnInstall(ctx)
	worker.OnActivate(ctx)

	client := &http.Client{Transport: worker}
	catalogue := pagination.NewHTTPCatalogue(originURL.String(), client)
	browser := pagination.NewBrowser(catalogue, &textView{out: os.Stdout})

	if err := browser.Load(ctx); err != nil {
		fmt.Println("Could not load the catalogue:", err)
	}
	fmt.Println(help)
	repl(ctx, os.Stdin, os.Stdout, browser, catalogue, worker)
}

func repl(ctx context.Context, in io.Reader, out io.Writer, browser *pagination.Browser, catalogue pagination.Catalogue, worker *bookcache.Worker) {
	scanner := bufio.NewScanner(in)
	for fmt.Fprint(out, "> "); scanner.Scan(); fmt.Fprint(out, "> ") {
		command, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)
		var err error
		switch command {
		case "":
		case "next":
			err = browser.NextPage(ctx)
		case "prev":
			err = browser.PreviousPage(ctx)
		case "genre":
			err = browser.SelectGenre(ctx, arg)
		case "clear":
			err = browser.ClearFilter(ctx)
		case "genres":
			var genres []books.Genre
			if genres, err = catalogue.Genres(ctx); err == nil {
				for _, g := range genres {
					fmt.Fprintf(out, "  %-3d %s\n", g.ID, g.Name)
				}
			}
		case "search":
			var results []books.SearchEntry
			if results, err = browser.Search(ctx, arg); err == nil {
				for _, r := range results {
					fmt.Fprintf(out, "  #%d %s\n", r.BookID, r.BookAndAuthor)
				}
			}
		case "sync":
			var report bookcache.RefreshReport
			if report, err = worker.OnBackgroundSignal(ctx, bookcache.SyncTag); err == nil {
				fmt.Fprintf(out, "refreshed %d pages for %d books, %d failed\n", len(report.Pages), report.Total, len(report.Failed()))
			}
		case "quit", "exit":
			return
		default:
			fmt.Fprintln(out, help)
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

type textView struct {
	out io.Writer
}

func (v *textView) RenderBooks(list []books.Book) {
	if len(list) == 0 {
		fmt.Fprintln(v.out, "  (no books)")
	}
	for _, b := range list {
		fmt.Fprintf(v.out, "  #%-4d %s, by %s\n", b.ID, b.Title, b.Author)
	}
}

func (v *textView) SetButtons(buttons pagination.Buttons) {
	var labels []string
	for _, b := range []pagination.Button{buttons.Previous, buttons.Next} {
		if !b.Visible {
			continue
		}
		if b.Enabled {
			labels = append(labels, "["+b.Label+"]")
		} else {
			labels = append(labels, b.Label)
		}
	}
	if len(labels) > 0 {
		fmt.Fprintln(v.out, " ", strings.Join(labels, "  "))
	}
}

func (v *textView) HighlightGenre(name string) {
	if name != "" {
		fmt.Fprintf(v.out, "Genre: %s\n", name)
	}
}

func (v *textView) ScrollToTop() {
	fmt.Fprintln(v.out, strings.Repeat("-", 40))
}
