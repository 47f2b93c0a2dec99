package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/fileloader/internal/transport/progress"
)

// ErrBodyTooLarge is returned when a response body exceeds Options.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body too large")

// Transport issues exactly one outbound request. It never retries and, unless
// asked to, never follows redirects.
type Transport interface {
	Issue(ctx context.Context, req *Request) (*Response, error)
}

// Credentials authenticate a request. Username/Password use basic auth,
// Token is sent as an OAuth2 bearer token.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Request describes one outbound request.
type Request struct {
	URL         string
	Method      string
	Credentials Credentials
	Header      http.Header

	// FollowRedirects lets the underlying client follow redirects itself.
	FollowRedirects bool
	// UseCache allows conditional requests; IfNoneMatch is sent when set.
	// When false the request asks intermediaries not to serve cached content.
	UseCache    bool
	IfNoneMatch string

	OnProgress func(fraction float64)
}

// Response is a completed response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a response with an HTTP error status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed: %s", e.URL, e.Status)
}

// Options configures an HTTPTransport.
type Options struct {
	// Timeout bounds a whole request including reading the body.
	// Default: 30s
	Timeout time.Duration

	// MaxBodySize rejects larger bodies. Zero means unlimited.
	MaxBodySize int64

	// ProgressStep is the minimum fraction between two progress reports.
	// Default: 0.05
	ProgressStep float64

	// Base is the round tripper under the instrumentation layer.
	// Default: a clone of http.DefaultTransport.
	Base http.RoundTripper
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		ProgressStep: 0.05,
	}
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	following *http.Client
	direct    *http.Client
	opts      Options
}

// NewHTTPTransport creates an HTTPTransport with the given options.
func NewHTTPTransport(opts Options) *HTTPTransport {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	if opts.ProgressStep <= 0 {
		opts.ProgressStep = DefaultOptions().ProgressStep
	}

	rt := otelhttp.NewTransport(base)

	return &HTTPTransport{
		following: &http.Client{Transport: rt, Timeout: opts.Timeout},
		direct: &http.Client{
			Transport: rt,
			Timeout:   opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts: opts,
	}
}

// Issue sends req and reads the whole response body. Statuses >= 400 are
// reported as *StatusError; every other status, redirects included, is a Response.
func (t *HTTPTransport) Issue(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	if req.Credentials.Username != "" {
		httpReq.SetBasicAuth(req.Credentials.Username, req.Credentials.Password)
	}

	if req.Credentials.Token != "" {
		(&oauth2.Token{AccessToken: req.Credentials.Token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}

	if req.UseCache {
		if req.IfNoneMatch != "" {
			httpReq.Header.Set("If-None-Match", req.IfNoneMatch)
		}
	} else {
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	client := t.direct
	if req.FollowRedirects {
		client = t.following
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body io.Reader = resp.Body

	if t.opts.MaxBodySize > 0 {
		body = io.LimitReader(body, t.opts.MaxBodySize+1)
	}

	if req.OnProgress != nil {
		body = progress.NewReader(body, resp.ContentLength, t.opts.ProgressStep, req.OnProgress)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if t.opts.MaxBodySize > 0 && int64(len(data)) > t.opts.MaxBodySize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, t.opts.MaxBodySize)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
