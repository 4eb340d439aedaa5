// Package cachestatus builds the Cache-Status response header (RFC 9211)
// the worker adds to every response it hands out.
package cachestatus

import "fmt"

const (
	HeaderName = "Cache-Status"
	cacheName  = "Bookcache"
)

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"
)

type CacheStatus struct {
	status    Status
	fwdReason FwdReason
	stored    bool
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.status = StatusHit
	cs.fwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = StatusFwd
	cs.fwdReason = reason
}

func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// IsHit reports whether the response came from the cache without forwarding.
func (cs *CacheStatus) IsHit() bool {
	return cs.status == StatusHit
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cacheName, cs.status)
	if cs.status == StatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.stored {
		status = status + "; stored"
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
