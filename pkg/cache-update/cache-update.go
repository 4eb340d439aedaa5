package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the response header an origin uses to name additional
// resources that a mutation changed, e.g. `Cache-Update: /book/12; delay=2`.
const HeaderName = "Cache-Update"

var delayPattern = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Fully resolved relative path to the resource.
	// Equivalent to `url.URL.Path`.
	Path string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

// GetCacheUpdates gets the updates specified by the response.
// Only responses to unsafe requests may ask for updates.
// The request is used in order to resolve potentially relative update paths.
func GetCacheUpdates(req *http.Request, res *http.Response) []CacheUpdate {
	if req == nil || res == nil || safeMethod(req.Method) {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	for _, value := range res.Header.Values(HeaderName) {
		for _, update := range strings.Split(value, ",") {
			update = strings.TrimSpace(update)
			// path is the first element
			path := strings.TrimSpace(strings.Split(update, ";")[0])
			if path == "" {
				continue
			}
			updates = append(updates, CacheUpdate{
				Path:  getURL(req, path).Path,
				Delay: getDelay(update),
			})
		}
	}
	return updates
}

func safeMethod(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// getURL resolves the update path against the request URL.
func getURL(r *http.Request, path string) *url.URL {
	return r.URL.ResolveReference(&url.URL{Path: path})
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayPattern.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
