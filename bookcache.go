// Package bookcache is an offline-capable request-interception cache for the
// book catalogue. Safe requests are served cache-first; mutations go to the
// network and are followed by a refresh of every cached catalogue page.
package bookcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/bookcache/cache"
	cachekey "github.com/always-cache/bookcache/pkg/cache-key"
	cachestatus "github.com/always-cache/bookcache/pkg/cache-status"
	cacheupdate "github.com/always-cache/bookcache/pkg/cache-update"
	"github.com/always-cache/bookcache/pkg/origin"
	serializer "github.com/always-cache/bookcache/pkg/response-serializer"
	routetable "github.com/always-cache/bookcache/pkg/route-table"

	"github.com/rs/zerolog"
)

const (
	DefaultVersion     = "v1"
	DefaultFallbackURL = "/views/fallback.html"
	DefaultPageSize    = 15
	DefaultCountURL    = "/api/countbooks"
	// DefaultPageURL is formatted with the page offset.
	DefaultPageURL = "/api/books/%d"

	// SyncPath triggers the background signal when POSTed to ServeHTTP.
	SyncPath = "/.bookcache/sync"

	networkErrorBody = "Network error happened"
)

// DefaultRules classify the catalogue's mutating endpoints.
// Everything else is served cache-first.
var DefaultRules = routetable.Rules{
	{Method: http.MethodPost, Pattern: "/api/addbook", Strategy: routetable.Mutate},
	{Method: http.MethodDelete, Pattern: "/api/book/{id}", Strategy: routetable.Mutate},
	{Method: http.MethodPut, Pattern: "/api/book/{id}", Strategy: routetable.Mutate},
}

type Config struct {
	// Storage for static and dynamic entries.
	Store cache.Store
	// Network access. Defaults to an HTTP fetcher for OriginURL.
	Fetcher origin.Fetcher
	// URL of the catalogue origin.
	OriginURL url.URL
	// Version tag of the partitions, e.g. `v3` for `static-v3` and `dynamic-v3`.
	Version string
	// Explicit partition names, overriding the ones derived from Version.
	StaticPartition  string
	DynamicPartition string
	// Shell assets fetched at install. Defaults to DefaultManifest.
	Manifest []string
	// Page served from the static partition when the network fails.
	FallbackURL string
	// Route table. Defaults to DefaultRules.
	Rules    routetable.Rules
	PageSize int
	CountURL string
	PageURL  string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Collectors to update. Unregistered collectors are used if nil.
	Metrics *Metrics
	// Interval of periodic refreshes while the background loop runs.
	// Zero disables them.
	RefreshInterval time.Duration
}

type Worker struct {
	store           cache.Store
	fetcher         origin.Fetcher
	keyer           cachekey.CacheKeyer
	routes          *routetable.Table
	log             zerolog.Logger
	metrics         *Metrics
	static          string
	dynamic         string
	manifest        []string
	fallbackURL     string
	pageSize        int
	countURL        string
	pageURL         string
	refreshInterval time.Duration

	// ctx is the parent of all background work, cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	// pending tracks scheduled refreshes and delayed updates.
	pending sync.WaitGroup

	mu       sync.Mutex
	next     *refreshJob
	wake     chan struct{}
	loopDone chan struct{}
}

// CreateWorker initializes the worker.
// It does not install or activate; hosts call OnInstall and OnActivate.
func CreateWorker(config Config) (*Worker, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("no store configured")
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	rules := config.Rules
	if rules == nil {
		rules = DefaultRules
	}
	routes, err := routetable.Compile(rules, routetable.CacheFirst)
	if err != nil {
		return nil, fmt.Errorf("compile route table: %w", err)
	}
	for _, rule := range routes.Rules() {
		logger.Debug().
			Str("method", rule.Method).
			Str("pattern", rule.Pattern).
			Str("strategy", string(rule.Strategy)).
			Msg("Route rule")
	}

	version := config.Version
	if version == "" {
		version = DefaultVersion
	}

	w := &Worker{
		store:           config.Store,
		fetcher:         config.Fetcher,
		keyer:           cachekey.NewCacheKeyer(config.OriginURL),
		routes:          routes,
		log:             logger,
		metrics:         config.Metrics,
		static:          firstNonEmpty(config.StaticPartition, "static-"+version),
		dynamic:         firstNonEmpty(config.DynamicPartition, "dynamic-"+version),
		manifest:        config.Manifest,
		fallbackURL:     firstNonEmpty(config.FallbackURL, DefaultFallbackURL),
		pageSize:        config.PageSize,
		countURL:        firstNonEmpty(config.CountURL, DefaultCountURL),
		pageURL:         firstNonEmpty(config.PageURL, DefaultPageURL),
		refreshInterval: config.RefreshInterval,
		wake:            make(chan struct{}, 1),
	}
	if w.fetcher == nil {
		w.fetcher = origin.NewHTTPFetcher(config.OriginURL, "", origin.DefaultTimeout)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil)
	}
	if w.manifest == nil {
		w.manifest = DefaultManifest
	}
	if w.pageSize <= 0 {
		w.pageSize = DefaultPageSize
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// StaticPartition returns the name of the current static partition.
func (w *Worker) StaticPartition() string { return w.static }

// DynamicPartition returns the name of the current dynamic partition.
func (w *Worker) DynamicPartition() string { return w.dynamic }

// OnFetch handles an intercepted request.
// Safe requests always get a response. Mutations return the fetch error,
// if any, in which case no refresh is scheduled.
func (w *Worker) OnFetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	switch w.routes.Strategy(r) {
	case routetable.Mutate:
		return w.mutate(ctx, r)
	default:
		return w.cacheFirst(ctx, r), nil
	}
}

// cacheFirst serves the stored response if there is one, else the network
// response, else the fallback.
func (w *Worker) cacheFirst(ctx context.Context, r *http.Request) *http.Response {
	cs := cachestatus.CacheStatus{}
	strategy := string(routetable.CacheFirst)

	if !cacheable(r.Method) {
		cs.Forward(cachestatus.FwdMethod)
		res, err := w.fetcher.Fetch(ctx, r)
		if failed(r, res, err) {
			return w.fallback(r, cs, err)
		}
		w.metrics.Responses.WithLabelValues(strategy, outcomeForwarded).Inc()
		return withStatus(res, cs)
	}

	key := w.keyer.GetKey(r)
	if res, ok := w.lookup(r, key); ok {
		cs.Hit()
		w.log.Trace().Str("key", key).Msg("Serving from cache")
		w.metrics.Responses.WithLabelValues(strategy, outcomeHit).Inc()
		return withStatus(res, cs)
	}

	cs.Forward(cachestatus.FwdUriMiss)
	w.log.Trace().Str("key", key).Msg("Fetching from network")
	res, err := w.fetcher.Fetch(ctx, r)
	if failed(r, res, err) {
		return w.fallback(r, cs, err)
	}
	outcome := outcomeForwarded
	if r.Method == http.MethodGet && res.StatusCode == http.StatusOK {
		if err := w.put(w.dynamic, key, res); err != nil {
			w.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		} else {
			cs.Stored()
			outcome = outcomeStored
		}
	} else {
		w.log.Debug().Str("key", key).Int("status", res.StatusCode).Msg("Not caching response")
	}
	w.metrics.Responses.WithLabelValues(strategy, outcome).Inc()
	return withStatus(res, cs)
}

// mutate forwards the request and schedules a refresh once the origin answered.
func (w *Worker) mutate(ctx context.Context, r *http.Request) (*http.Response, error) {
	strategy := string(routetable.Mutate)
	res, err := w.fetcher.Fetch(ctx, r)
	if err != nil {
		w.log.Error().Err(err).Str("method", r.Method).Str("url", r.URL.String()).Msg("Mutation failed")
		w.metrics.Responses.WithLabelValues(strategy, outcomeError).Inc()
		return nil, err
	}
	succeeded := mutationSucceeded(res.StatusCode)
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", res.StatusCode).
		Msg("Mutation completed, scheduling refresh")
	w.scheduleRefresh(refreshJob{
		succeeded: succeeded,
		updates:   cacheupdate.GetCacheUpdates(r, res),
	})
	cs := cachestatus.CacheStatus{}
	cs.Forward(cachestatus.FwdMethod)
	w.metrics.Responses.WithLabelValues(strategy, outcomeForwarded).Inc()
	return withStatus(res, cs), nil
}

// fallback returns the fallback page from the static partition,
// or a network error response if it was never installed.
func (w *Worker) fallback(r *http.Request, cs cachestatus.CacheStatus, err error) *http.Response {
	strategy := string(routetable.CacheFirst)
	event := w.log.Warn().Str("method", r.Method).Str("url", r.URL.String())
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Network failed, serving fallback")

	cs.Forward(cachestatus.FwdMiss)
	if key, kerr := w.keyer.KeyFor(http.MethodGet, w.fallbackURL); kerr == nil {
		if res, ok := w.lookupIn(w.static, r, key); ok {
			cs.Detail("fallback")
			w.metrics.Responses.WithLabelValues(strategy, outcomeFallback).Inc()
			return withStatus(res, cs)
		}
	}
	cs.Detail("network-error")
	w.metrics.Responses.WithLabelValues(strategy, outcomeNetworkError).Inc()
	return withStatus(networkErrorResponse(r), cs)
}

// lookup searches the static partition, then the dynamic one.
func (w *Worker) lookup(r *http.Request, key string) (*http.Response, bool) {
	for _, partition := range []string{w.static, w.dynamic} {
		if res, ok := w.lookupIn(partition, r, key); ok {
			return res, true
		}
	}
	return nil, false
}

func (w *Worker) lookupIn(partition string, r *http.Request, key string) (*http.Response, bool) {
	b, ok, err := w.store.Get(partition, key)
	if err != nil {
		w.log.Error().Err(err).Str("partition", partition).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	stored, err := serializer.BytesToStoredResponse(b, r)
	if err != nil {
		w.log.Error().Err(err).Str("partition", partition).Str("key", key).Msg("Could not parse stored response")
		return nil, false
	}
	res := stored.Response
	if !stored.StoredAt.IsZero() {
		res.Header.Set("Age", strconv.Itoa(int(stored.Age().Seconds())))
	}
	return res, true
}

// put stores a copy of the response. The response body stays readable.
func (w *Worker) put(partition, key string, res *http.Response) error {
	b, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return w.store.Put(partition, key, b)
}

// newRequest creates a request for a manifest entry or catalogue URL.
// Same-origin requests get a relative URL, the way the host would send them.
func (w *Worker) newRequest(ctx context.Context, method, ref string) (*http.Request, string, error) {
	u, err := w.keyer.Resolve(ref)
	if err != nil {
		return nil, "", err
	}
	target := u.String()
	if w.keyer.SameOrigin(u) {
		target = u.RequestURI()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, "", err
	}
	return req, w.keyer.GetKey(req), nil
}

// ServeHTTP implements the http.Handler interface,
// making the worker a caching proxy in front of the origin.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == SyncPath {
		w.serveSync(rw, r)
		return
	}
	res, err := w.OnFetch(r.Context(), r)
	if err != nil {
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) serveSync(rw http.ResponseWriter, r *http.Request) {
	report, err := w.OnBackgroundSignal(r.Context(), SyncTag)
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		rw.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(rw, "refresh failed: %v\n", err)
		return
	}
	fmt.Fprintf(rw, "refreshed %d pages for %d books, %d failed\n",
		len(report.Pages), report.Total, len(report.Failed()))
}

// RoundTrip implements the http.RoundTripper interface,
// so that the worker can intercept every request of an http.Client.
func (w *Worker) RoundTrip(r *http.Request) (*http.Response, error) {
	return w.OnFetch(r.Context(), r)
}

func (w *Worker) logRequest(r *http.Request, res *http.Response) {
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", res.StatusCode).
		Str("cacheStatus", res.Header.Get(cachestatus.HeaderName)).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func withStatus(res *http.Response, cs cachestatus.CacheStatus) *http.Response {
	res.Header.Set(cachestatus.HeaderName, cs.String())
	return res
}

func networkErrorResponse(r *http.Request) *http.Response {
	body := []byte(networkErrorBody)
	return &http.Response{
		Status:     strconv.Itoa(http.StatusRequestTimeout) + " " + http.StatusText(http.StatusRequestTimeout),
		StatusCode: http.StatusRequestTimeout,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type":   {"text/plain"},
			"Content-Length": {strconv.Itoa(len(body))},
		},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

// failed reports whether a safe request needs the fallback:
// the fetch failed, or a page load got an error status.
func failed(r *http.Request, res *http.Response, err error) bool {
	return err != nil || (!is2xx(res.StatusCode) && wantsHTML(r))
}

// wantsHTML reports whether the request expects an HTML document,
// judged by the URL extension or the Accept header.
func wantsHTML(r *http.Request) bool {
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".html", ".htm":
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func cacheable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == ""
}

// mutationSucceeded reports whether a write was accepted by the origin.
// Redirects count, e.g. the 303 after adding a book.
func mutationSucceeded(status int) bool {
	return status >= 200 && status < 400
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
