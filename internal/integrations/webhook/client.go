// Package webhook builds and sends the single call to the pipeline webhook.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

const maxBodyBytes = 10 << 20

// ErrTimeout marks a call that did not settle within RequestConfig.Timeout.
var ErrTimeout = errors.New("webhook: request timed out")

// ErrBodyTooLarge is returned when the upstream body exceeds maxBodyBytes.
var ErrBodyTooLarge = errors.New("webhook: response body too large")

// Response is a settled upstream answer.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// StatusError is returned when the status validator rejects a response.
type StatusError struct {
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: unexpected status %d from %s", e.Response.Status, e.URL)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.Response.Status
}

// Client posts payloads to one pipeline URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("webhook: base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("webhook: parse base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send issues the call. Cancellation of ctx is not propagated: a caller that
// goes away leaves the call to finish or hit cfg.Timeout.
func (c *Client) Send(ctx context.Context, payload Payload, cfg RequestConfig) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
	defer cancel()

	target, err := c.requestURL(cfg.Query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("webhook: create request: %w", err)
	}
	for k, vals := range cfg.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if payload.ContentType != "" {
		req.Header.Set("Content-Type", payload.ContentType)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return nil, transportError(fmt.Errorf("read response body: %w", err))
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxBodyBytes)
	}

	resp := &Response{Status: res.StatusCode, Body: body, Headers: res.Header}
	validate := cfg.ValidateStatus
	if validate == nil {
		validate = AcceptBelow500
	}
	if !validate(res.StatusCode) {
		return nil, &StatusError{URL: c.baseURL, Response: resp}
	}
	return resp, nil
}

func (c *Client) requestURL(query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("webhook: parse base URL: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vals := range query {
			for _, v := range vals {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("webhook: request failed: %w", err)
}
