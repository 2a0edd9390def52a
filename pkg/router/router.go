package router

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"

	"ip-rotator/pkg/gateway"
)

var (
	// ErrNotStarted is returned when a request is routed before any endpoint exists.
	ErrNotStarted = errors.New("pool not started: call Start or Use before sending requests")
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid URL schema")
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EndpointSource exposes the live set of endpoint addresses.
type EndpointSource interface {
	Endpoints() []string
}

// Router sends requests through a randomly chosen pool endpoint.
type Router struct {
	source     EndpointSource
	client     Doer
	hostHeader string

	// pick returns an index in [0, n).
	pick func(n int) int
	// spoof returns the client address presented to the origin.
	spoof func() string
}

// New creates a Router that presents hostHeader to the origin.
func New(source EndpointSource, client Doer, hostHeader string) *Router {
	return &Router{
		source:     source,
		client:     client,
		hostHeader: hostHeader,
		pick:       rand.IntN,
		spoof:      RandomIPv4,
	}
}

// Do routes one request. headers is never modified. The response and any
// transport error come back from the client untouched.
func (r *Router) Do(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := r.NewRequest(ctx, method, rawURL, headers, body)
	if err != nil {
		return nil, err
	}
	return r.client.Do(req)
}

// NewRequest builds the rewritten request without sending it.
func (r *Router) NewRequest(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*http.Request, error) {
	endpoints := r.source.Endpoints()
	if len(endpoints) == 0 {
		return nil, ErrNotStarted
	}

	path, err := forwardedPath(rawURL)
	if err != nil {
		return nil, err
	}

	endpoint := endpoints[r.pick(len(endpoints))]
	target := fmt.Sprintf("https://%s/%s/%s", endpoint, gateway.StageName, path)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = r.rewriteHeaders(headers)

	return req, nil
}

func (r *Router) rewriteHeaders(in http.Header) http.Header {
	out := in.Clone()
	if out == nil {
		out = make(http.Header)
	}

	forwarded := out.Get("X-Forwarded-For")
	out.Del("X-Forwarded-For")
	if forwarded == "" {
		forwarded = r.spoof()
	}

	out.Set(gateway.HeaderHost, r.hostHeader)
	out.Set(gateway.HeaderForwarded, forwarded)

	return out
}

// forwardedPath returns the path and query of rawURL without the leading
// slash, or "" when there is none.
func forwardedPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	path := strings.TrimPrefix(u.EscapedPath(), "/")
	if u.RawQuery != "" || u.ForceQuery {
		path += "?" + u.RawQuery
	}
	return path, nil
}

// RandomIPv4 returns a uniformly drawn non-zero IPv4 address in dotted-quad form.
func RandomIPv4() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], rand.Uint32N(0xffffffff)+1)
	return net.IP(b[:]).String()
}

func (r *Router) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return r.Do(ctx, http.MethodGet, url, headers, nil)
}

func (r *Router) Head(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return r.Do(ctx, http.MethodHead, url, headers, nil)
}

func (r *Router) Options(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return r.Do(ctx, http.MethodOptions, url, headers, nil)
}

func (r *Router) Delete(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return r.Do(ctx, http.MethodDelete, url, headers, nil)
}

func (r *Router) Post(ctx context.Context, url string, headers http.Header, body io.Reader) (*http.Response, error) {
	return r.Do(ctx, http.MethodPost, url, headers, body)
}

func (r *Router) Put(ctx context.Context, url string, headers http.Header, body io.Reader) (*http.Response, error) {
	return r.Do(ctx, http.MethodPut, url, headers, body)
}

func (r *Router) Patch(ctx context.Context, url string, headers http.Header, body io.Reader) (*http.Response, error) {
	return r.Do(ctx, http.MethodPatch, url, headers, body)
}
