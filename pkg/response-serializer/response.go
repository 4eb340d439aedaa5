package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Bookcache-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock when the response was written to the store.
	StoredAt time.Time
}

// Age returns how long ago the response was stored.
func (s StoredResponse) Age() time.Duration {
	return time.Since(s.StoredAt)
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the response,
// including a header carrying the storage time.
// The response body is left intact, so the response can still be sent.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// BytesToStoredResponse parses bytes created by StoredResponseToBytes.
// The given request is set as the request of the parsed response.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, fmt.Errorf("read stored response: %w", err)
	}
	sRes.Response = res
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// always write HTTP/1.1, responses built in code often lack a protocol version
	out := *res
	out.Proto, out.ProtoMajor, out.ProtoMinor = "HTTP/1.1", 1, 1
	if out.Body == nil {
		out.Body = http.NoBody
	}
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, fmt.Errorf("re-read response: %w", err)
	}
	body, err := io.ReadAll(clonedRes.Body)
	if err != nil {
		return nil, fmt.Errorf("re-read response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return bts, nil
}
