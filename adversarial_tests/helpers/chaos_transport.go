package helpers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ChaosMode defines the type of failure to inject
type ChaosMode int

const (
	// ChaosNone passes requests through untouched
	ChaosNone ChaosMode = iota

	// ChaosConnectionReset fails the round trip before any response
	ChaosConnectionReset

	// ChaosEmptyBody returns 200 with no body
	ChaosEmptyBody

	// ChaosInvalidJSON returns 200 with a body that is not JSON
	ChaosInvalidJSON

	// ChaosPartialRead returns the real response but cuts the body short
	ChaosPartialRead

	// ChaosGatewayError returns a 502 with an HTML body
	ChaosGatewayError
)

// ErrConnectionReset is returned by ChaosConnectionReset round trips.
var ErrConnectionReset = errors.New("chaos: connection reset by peer")

// ChaosTransport wraps a RoundTripper and injects failures into requests
// whose path ends with one of the targeted NSIDs. With no targets every
// request is affected.
type ChaosTransport struct {
	base    http.RoundTripper
	mu      sync.Mutex
	mode    ChaosMode
	targets []string
	remain  int
	hits    atomic.Int64
}

// NewChaosTransport wraps base, or http.DefaultTransport when nil.
func NewChaosTransport(base http.RoundTripper) *ChaosTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ChaosTransport{base: base}
}

// Inject makes the next times matching requests fail with mode; times <= 0
// means until Reset.
func (c *ChaosTransport) Inject(mode ChaosMode, times int, nsids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.remain = times
	c.targets = nsids
}

// Reset stops injecting failures.
func (c *ChaosTransport) Reset() {
	c.Inject(ChaosNone, 0)
}

// Hits returns how many requests had a failure injected.
func (c *ChaosTransport) Hits() int64 {
	return c.hits.Load()
}

// RoundTrip implements http.RoundTripper.
func (c *ChaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	mode := c.take(req.URL.Path)
	if mode == ChaosNone {
		return c.base.RoundTrip(req)
	}
	c.hits.Add(1)

	switch mode {
	case ChaosConnectionReset:
		return nil, ErrConnectionReset
	case ChaosEmptyBody:
		return synthesize(req, http.StatusOK, "application/json", ""), nil
	case ChaosInvalidJSON:
		return synthesize(req, http.StatusOK, "application/json", `{"uri": "at://`), nil
	case ChaosGatewayError:
		return synthesize(req, http.StatusBadGateway, "text/html", "<html><body>502 Bad Gateway</body></html>"), nil
	case ChaosPartialRead:
		resp, err := c.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Body = &partialReadCloser{rc: resp.Body, remaining: 8}
		return resp, nil
	}
	return c.base.RoundTrip(req)
}

func (c *ChaosTransport) take(path string) ChaosMode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ChaosNone {
		return ChaosNone
	}
	if len(c.targets) > 0 {
		matched := false
		for _, nsid := range c.targets {
			if strings.HasSuffix(path, "/"+nsid) {
				matched = true
				break
			}
		}
		if !matched {
			return ChaosNone
		}
	}

	mode := c.mode
	if c.remain > 0 {
		c.remain--
		if c.remain == 0 {
			c.mode = ChaosNone
		}
	}
	return mode
}

func synthesize(req *http.Request, status int, contentType, body string) *http.Response {
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{contentType}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// partialReadCloser yields the first remaining bytes of rc and then fails.
type partialReadCloser struct {
	rc        io.ReadCloser
	remaining int
}

func (p *partialReadCloser) Read(buf []byte) (int, error) {
	if p.remaining <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if len(buf) > p.remaining {
		buf = buf[:p.remaining]
	}
	n, err := p.rc.Read(buf)
	p.remaining -= n
	return n, err
}

func (p *partialReadCloser) Close() error {
	return p.rc.Close()
}
