// Package fetch builds the HTTP clients used to reach pool endpoints and
// provides a small helper to make requests through a pool.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
)

const DefaultTimeout = 30 * time.Second

// Options contains the configuration for clients and requests.
type Options struct {
	// Transport config string, e.g. "socks5://127.0.0.1:1080". Empty dials directly.
	Transport string
	// Timeout of a whole request (default: 30s)
	Timeout time.Duration
	// Follow redirects instead of returning the redirect response
	FollowRedirects bool
	// HTTP method to use (default: "GET")
	Method string
	// Raw HTTP headers to add (without \r\n)
	Headers []string
}

// Result contains the response from a fetch request
type Result struct {
	// HTTP response
	Response *http.Response
	// Response body as bytes
	Body []byte
}

// Requester sends a request through a pool. *pool.Pool satisfies it.
type Requester interface {
	Do(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*http.Response, error)
}

// NewClient returns an HTTP client whose connections are dialed through the
// configured transport.
func NewClient(opts Options) (*http.Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	dialer, err := NewDialer(opts.Transport)
	if err != nil {
		return nil, err
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return dialer.DialStream(ctx, addr)
	}

	rt := http.DefaultTransport.(*http.Transport).Clone()
	rt.Proxy = nil
	rt.DialContext = dialContext

	client := &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

// NewDialer returns the stream dialer for a transport config string.
func NewDialer(config string) (transport.StreamDialer, error) {
	dialer, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(config)
	if err != nil {
		return nil, fmt.Errorf("could not create dialer: %w", err)
	}
	return dialer, nil
}

// ParseHeaders parses raw header lines such as "Accept: text/html".
func ParseHeaders(lines []string) (http.Header, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	headerText := strings.Join(lines, "\r\n") + "\r\n\r\n"
	h, err := textproto.NewReader(bufio.NewReader(strings.NewReader(headerText))).ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("invalid header line: %w", err)
	}
	return http.Header(h), nil
}

// Fetch makes a request through r and reads the whole body.
func Fetch(ctx context.Context, r Requester, url string, opts Options) (*Result, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	headers, err := ParseHeaders(opts.Headers)
	if err != nil {
		return nil, err
	}

	resp, err := r.Do(ctx, opts.Method, url, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read of page body failed: %w", err)
	}

	return &Result{
		Response: resp,
		Body:     body,
	}, nil
}
