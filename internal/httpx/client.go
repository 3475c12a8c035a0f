package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

// RequestEditor mutates an outgoing request before each attempt. Editors run
// on every retry so time-bound headers such as bearer tokens stay fresh.
type RequestEditor func(ctx context.Context, req *http.Request) error

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	editors    []RequestEditor
	log        logrus.FieldLogger
}

type Option func(*Client)

func WithEditors(editors ...RequestEditor) Option {
	return func(c *Client) { c.editors = append(c.editors, editors...) }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func New(timeout time.Duration, retries int, opts ...Option) *Client {
	if retries < 0 {
		retries = 0
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "cdp-cli/1.0",
		log:        discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is the error body returned by the Platform on non-2xx responses.
type APIError struct {
	ErrorType     string `json:"errorType"`
	ErrorMessage  string `json:"errorMessage"`
	CorrelationID string `json:"correlationId"`
	ErrorLink     string `json:"errorLink"`
}

// Do sends req with retries and returns the raw response body of the first
// 2xx response. The body is returned untouched, including when empty.
func (c *Client) Do(ctx context.Context, req *http.Request) ([]byte, http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			c.log.WithFields(logrus.Fields{
				"method":  req.Method,
				"path":    req.URL.Path,
				"attempt": attempt,
				"wait":    wait.String(),
			}).WithError(lastErr).Debug("retrying request")
			select {
			case <-ctx.Done():
				return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(wait):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}
		for _, edit := range c.editors {
			if err := edit(ctx, cloneReq); err != nil {
				return nil, nil, err
			}
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read platform response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = statusError(clierr.CodeRateLimited, "platform rate limited request", resp.StatusCode, buf)
			if attempt < c.retries {
				continue
			}
			return nil, resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, resp.Header, statusError(clierr.CodeAuth, "platform authentication failed", resp.StatusCode, buf)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = statusError(clierr.CodeUnavailable, "platform unavailable", resp.StatusCode, buf)
			if attempt < c.retries {
				continue
			}
			return nil, resp.Header, lastErr
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, resp.Header, statusError(clierr.CodeNotFound, "platform resource not found", resp.StatusCode, buf)
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
			return nil, resp.Header, statusError(clierr.CodeUsage, "platform rejected request", resp.StatusCode, buf)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, resp.Header, statusError(clierr.CodeUnsupported, "platform returned unexpected status", resp.StatusCode, buf)
		}
		return buf, resp.Header, nil
	}

	if lastErr != nil {
		return nil, nil, lastErr
	}
	return nil, nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// DoJSON is Do followed by a JSON decode into out. A nil out skips decoding.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	buf, header, err := c.Do(ctx, req)
	if err != nil {
		return header, err
	}
	if out == nil {
		return header, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return header, clierr.New(clierr.CodeMalformedResponse, "platform returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return header, clierr.Wrap(clierr.CodeMalformedResponse, "decode platform JSON", err)
	}
	return header, nil
}

// NewRequest builds a request whose body can be replayed across retries.
func NewRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	req, err := NewRequest(ctx, method, url, body, headers)
	if err != nil {
		return nil, err
	}
	return c.DoJSON(ctx, req, out)
}

func statusError(code clierr.Code, message string, status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.ErrorType != "" || apiErr.ErrorMessage != "") {
		parts := []string{fmt.Sprintf("%s (status %d)", message, status)}
		if apiErr.ErrorType != "" {
			parts = append(parts, apiErr.ErrorType)
		}
		if apiErr.ErrorMessage != "" {
			parts = append(parts, apiErr.ErrorMessage)
		}
		if apiErr.CorrelationID != "" {
			parts = append(parts, "correlation id "+apiErr.CorrelationID)
		}
		return clierr.New(code, strings.Join(parts, ": "))
	}
	return clierr.New(code, fmt.Sprintf("%s (status %d)", message, status))
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeUnavailable, "platform timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, "platform request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
