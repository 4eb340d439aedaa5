package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func testKeyer() CacheKeyer {
	origin, _ := url.Parse("http://books.localhost:8081")
	return NewCacheKeyer(*origin)
}

func TestKeyIgnoresOriginHost(t *testing.T) {
	keyer := testKeyer()
	absolute, _ := http.NewRequest("GET", "http://books.localhost:8081/api/books/15", nil)
	relative, _ := http.NewRequest("GET", "/api/books/15", nil)
	if a, r := keyer.GetKey(absolute), keyer.GetKey(relative); a != r || a != "GET:/api/books/15" {
		t.Fatalf("Keys differ: %s and %s", a, r)
	}
}

func TestKeyIsMethodQualified(t *testing.T) {
	keyer := testKeyer()
	req, _ := http.NewRequest("DELETE", "/api/book/3", nil)
	if key := keyer.GetKey(req); key != "DELETE:/api/book/3" {
		t.Fatalf("Key is %s", key)
	}
}

func TestKeyForCrossOrigin(t *testing.T) {
	keyer := testKeyer()
	key, err := keyer.KeyFor("GET", "https://fonts.googleapis.com/css2?family=Roboto")
	if err != nil {
		t.Fatal(err)
	}
	if key != "GET:https://fonts.googleapis.com/css2?family=Roboto" {
		t.Fatalf("Key is %s", key)
	}
}

func TestResolveManifestEntries(t *testing.T) {
	keyer := testKeyer()
	for ref, expected := range map[string]string{
		"/":                 "http://books.localhost:8081/",
		"./styles/main.css": "http://books.localhost:8081/styles/main.css",
		"views/add.html":    "http://books.localhost:8081/views/add.html",
	} {
		u, err := keyer.Resolve(ref)
		if err != nil {
			t.Fatal(err)
		}
		if u.String() != expected {
			t.Fatalf("Resolved %s to %s, expected %s", ref, u, expected)
		}
	}
}
