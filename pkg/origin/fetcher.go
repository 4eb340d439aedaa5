// Package origin contains the fetchers the worker uses to reach the network.
package origin

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	tee "github.com/always-cache/bookcache/pkg/response-writer-tee"
)

// ErrCrossOrigin is returned by HandlerFetcher for requests to another host.
var ErrCrossOrigin = errors.New("request is not for the handler's host")

// DefaultTimeout bounds a single fetch, body included.
const DefaultTimeout = 15 * time.Second

// Fetcher performs a network request.
// Returned responses have their body fully read into memory, so they stay
// readable after the fetch context is done.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// HTTPFetcher fetches from the origin server over HTTP.
// Relative request URLs are resolved against the origin.
type HTTPFetcher struct {
	Origin url.URL
	// Hostname to use for the Host header and TLS negotiation,
	// e.g. when the origin URL is just an IP address.
	OriginHost string
	Client     *http.Client
	Timeout    time.Duration
}

// NewHTTPFetcher returns a fetcher for the origin.
// A zero timeout means DefaultTimeout.
func NewHTTPFetcher(origin url.URL, originHost string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport
	if originHost != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &HTTPFetcher{
		Origin:     origin,
		OriginHost: originHost,
		Timeout:    timeout,
		Client: &http.Client{
			Transport: transport,
			// redirects are handed to the caller as they are
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	target := f.Origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
	sameOrigin := true
	if r.URL.IsAbs() {
		target = r.URL
		sameOrigin = r.URL.Host == f.Origin.Host
	}

	upReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("create origin request: %w", err)
	}
	copyHeader(upReq.Header, r.Header)
	upReq.ContentLength = r.ContentLength
	if sameOrigin && f.OriginHost != "" {
		upReq.Host = f.OriginHost
	}

	res, err := f.Client.Do(upReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", r.Method, target, err)
	}
	defer res.Body.Close()
	// read the body before the timeout context is cancelled
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s %s: %w", r.Method, target, err)
	}
	return buffered(res, body, r), nil
}

// HandlerFetcher serves requests in-process with an http.Handler,
// e.g. a catalogue server embedded in the same binary.
// Relative requests always reach the handler, absolute ones only if they
// are for Host.
type HandlerFetcher struct {
	Handler http.Handler
	Host    string
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.URL.Host != "" && r.URL.Host != f.Host {
		return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, r.URL)
	}
	req := r.Clone(ctx)
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	req.RequestURI = req.URL.RequestURI()
	rw := tee.NewResponseSaver(nil)
	f.Handler.ServeHTTP(rw, req)
	return rw.Result(r), nil
}

func buffered(res *http.Response, body []byte, req *http.Request) *http.Response {
	out := *res
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.TransferEncoding = nil
	out.Uncompressed = false
	out.Header = res.Header.Clone()
	if req.Method != http.MethodHead {
		out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	out.Request = req
	return &out
}

// copyHeader copies request headers for the origin.
// Some servers do not like the forwarding headers a downstream proxy adds.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		switch k {
		case "X-Forwarded-For", "X-Forwarded-Proto", "X-Forwarded-Host", "Connection":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
