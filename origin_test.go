package bookcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/bookcache/cache"
	"github.com/always-cache/bookcache/pkg/origin"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var errOffline = errors.New("offline")

// testOrigin is an in-process catalogue with a call counter per request.
type testOrigin struct {
	mu      sync.Mutex
	total   int
	version int
	offline bool
	// paths answering with 500
	broken map[string]bool
	calls  map[string]int
	router chi.Router
}

func newTestOrigin(total int) *testOrigin {
	o := &testOrigin{
		total:  total,
		broken: map[string]bool{},
		calls:  map[string]int{},
	}
	r := chi.NewRouter()
	r.Get("/api/countbooks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "%d", o.total)
	})
	r.Get("/api/books/{offset}", func(w http.ResponseWriter, r *http.Request) {
		offset, err := strconv.Atoi(chi.URLParam(r, "offset"))
		if err != nil {
			http.Error(w, "bad offset", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"offset":%d,"total":%d,"version":%d}`, offset, o.total, o.version)
	})
	r.Post("/api/addbook", func(w http.ResponseWriter, r *http.Request) {
		o.total++
		o.version++
		w.Header().Set("Cache-Update", "/book/"+strconv.Itoa(o.total))
		http.Redirect(w, r, "/catalogue", http.StatusSeeOther)
	})
	r.Delete("/api/book/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "0" {
			http.Error(w, "no such book", http.StatusNotFound)
			return
		}
		o.total--
		o.version++
		w.Header().Set("Cache-Update", "/book/"+chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/book/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		if id < 1 || id > o.total {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<h1>Book %d</h1>", id)
	})
	r.Get("/catalogue", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<h1>%d books</h1>", o.total)
	})
	r.Get("/views/fallback.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<h1>You are offline</h1>"))
	})
	r.Get("/styles/main.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body{}"))
	})
	o.router = r
	return o
}

// Fetch serves the request in-process, counting it.
func (o *testOrigin) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[r.Method+" "+r.URL.RequestURI()]++
	if o.offline {
		return nil, errOffline
	}
	if o.broken[r.URL.Path] {
		return origin.HandlerFetcher{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "broken", http.StatusInternalServerError)
		}), Host: testOriginURL.Host}.Fetch(ctx, r)
	}
	return origin.HandlerFetcher{Handler: o.router, Host: testOriginURL.Host}.Fetch(ctx, r)
}

func (o *testOrigin) setOffline(offline bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = offline
}

func (o *testOrigin) setBroken(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broken[path] = true
}

func (o *testOrigin) count(call string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[call]
}

func (o *testOrigin) totalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

// direct fetches a URL from the origin, bypassing the worker and the counter.
func (o *testOrigin) direct(t *testing.T, path string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	req, _ := http.NewRequest("GET", path, nil)
	res, err := origin.HandlerFetcher{Handler: o.router, Host: testOriginURL.Host}.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	return string(body)
}

var testOriginURL = url.URL{Scheme: "http", Host: "books.test"}

func newTestWorker(t *testing.T, o *testOrigin, configure ...func(*Config)) (*Worker, cache.MemStore) {
	t.Helper()
	store := cache.NewMemStore()
	logger := zerolog.Nop()
	config := Config{
		Store:     store,
		Fetcher:   o,
		OriginURL: testOriginURL,
		Manifest:  []string{"/views/fallback.html", "./styles/main.css"},
		Logger:    &logger,
	}
	for _, c := range configure {
		c(&config)
	}
	w, err := CreateWorker(config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, store
}

// holdFirstCount wraps the origin so that the first count fetch waits until
// release is closed. started is closed once that fetch is held.
func holdFirstCount(o *testOrigin) (fetcher origin.FetcherFunc, started <-chan struct{}, release chan struct{}) {
	held := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	fetcher = func(ctx context.Context, r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/countbooks" {
			first := false
			once.Do(func() {
				first = true
				close(held)
			})
			if first {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
		return o.Fetch(ctx, r)
	}
	return fetcher, held, release
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}
