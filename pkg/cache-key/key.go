package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const methodSeparator = ":"

type CacheKeyer struct {
	// Origin the worker serves.
	// Requests to it are keyed by request URI only, so that relative and
	// absolute URLs of the same resource share one entry.
	// Requests to other hosts (e.g. font CDNs) are keyed by absolute URL.
	Origin url.URL
}

func NewCacheKeyer(origin url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// GetKey returns the cache key for a request,
// i.e. the method and the URL separated by a colon, e.g. `GET:/api/books/0`.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.key(r.Method, r.URL)
}

// KeyFor returns the key of a request with the given method for a possibly relative reference.
func (c CacheKeyer) KeyFor(method, ref string) (string, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return "", err
	}
	return c.key(method, u), nil
}

// Resolve resolves a reference such as `./styles/main.css` or `/api/books/15`
// against the origin. Absolute references are returned as is.
func (c CacheKeyer) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimPrefix(ref, "."))
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return c.Origin.ResolveReference(u), nil
}

// SameOrigin reports whether u points to the origin.
// URLs without a host are relative to the origin.
func (c CacheKeyer) SameOrigin(u *url.URL) bool {
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Host, c.Origin.Host) &&
		(u.Scheme == "" || c.Origin.Scheme == "" || u.Scheme == c.Origin.Scheme)
}

func (c CacheKeyer) key(method string, u *url.URL) string {
	if method == "" {
		method = http.MethodGet
	}
	if c.SameOrigin(u) {
		return method + methodSeparator + u.RequestURI()
	}
	return method + methodSeparator + u.String()
}
