package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	backoffBase = 120 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// Client talks JSON to upstream providers. Failures come back as clierr
// values so callers can map them straight to exit codes.
type Client struct {
	http      *http.Client
	retries   int
	userAgent string
	resolver  *Resolver
}

type Option func(*Client)

// WithResolver rewrites every outgoing request URL through r before dialing.
func WithResolver(r *Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

func New(timeout time.Duration, retries int, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: timeout},
		retries:   max(retries, 0),
		userAgent: version.CLIName + "/" + version.CLIVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithRetries returns a copy sharing the transport but using a different retry budget.
func (c *Client) WithRetries(retries int) *Client {
	cp := *c
	cp.retries = max(retries, 0)
	return &cp
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	body, header, err := c.DoRaw(ctx, req)
	if err != nil || out == nil {
		return header, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return header, clierr.New(clierr.CodeUnavailable, "provider returned empty response")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return header, clierr.Wrap(clierr.CodeUnavailable, "decode provider JSON", err)
	}
	return header, nil
}

// PostJSON marshals payload, posts it to url and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	_, err = c.DoJSON(ctx, req, out)
	return err
}

// DoRaw sends req under the client's retry budget and returns the 2xx body
// undecoded. Only timeouts, 429 and 5xx are retried.
func (c *Client) DoRaw(ctx context.Context, req *http.Request) ([]byte, http.Header, error) {
	c.prepare(req)
	if c.resolver != nil {
		if err := c.resolver.Rewrite(req); err != nil {
			return nil, nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		body, header, retry, err := c.once(ctx, req)
		if err == nil || !retry || attempt >= c.retries {
			return body, header, err
		}
		select {
		case <-ctx.Done():
			return nil, header, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
		case <-time.After(backoff(attempt + 1)):
		}
	}
}

func (c *Client) prepare(req *http.Request) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func (c *Client) once(ctx context.Context, req *http.Request) (body []byte, header http.Header, retry bool, err error) {
	attemptReq := req.Clone(ctx)
	if req.GetBody != nil {
		if attemptReq.Body, err = req.GetBody(); err != nil {
			return nil, nil, false, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
		}
	}

	resp, err := c.http.Do(attemptReq)
	if err != nil {
		return nil, nil, true, transportError(err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, false, clierr.Wrap(clierr.CodeUnavailable, "read provider response", err)
	}
	if retry, err := statusError(resp.StatusCode); err != nil {
		return nil, resp.Header, retry, err
	}
	return body, resp.Header, false, nil
}

// statusError maps a non-2xx status onto an exit-code class.
func statusError(status int) (retry bool, err error) {
	switch {
	case status >= 200 && status < 300:
		return false, nil
	case status == http.StatusTooManyRequests:
		return true, clierr.New(clierr.CodeRateLimited, "provider rate limited request")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return false, clierr.New(clierr.CodeAuth, "provider authentication failed")
	case status >= http.StatusInternalServerError:
		return true, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", status))
	default:
		return false, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider returned unexpected status %d", status))
	}
}

func transportError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func backoff(attempt int) time.Duration {
	d := min(backoffBase<<uint(attempt-1), backoffCap)
	return d + time.Duration(rand.Intn(75))*time.Millisecond
}
