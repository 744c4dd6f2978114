// Package transport is the single HTTP boundary between the client core and
// the search backend. Every call goes through Client, which attaches the
// bearer token, stamps a request id and hands each response to the
// registered observers before the caller sees it.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"productsearch/internal/util"
	"productsearch/pkg/clienterr"
)

// TokenSource yields the bearer token to attach, or "" when none is held.
type TokenSource interface {
	Token() string
}

// ResponseObserver sees every response that reached the client.
type ResponseObserver interface {
	ObserveResponse(req *http.Request, resp *http.Response)
}

// ObserverFunc adapts a function to ResponseObserver.
type ObserverFunc func(req *http.Request, resp *http.Response)

func (f ObserverFunc) ObserveResponse(req *http.Request, resp *http.Response) {
	f(req, resp)
}

// APIError represents a non-2xx backend response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return http.StatusText(e.Status)
}

// Client calls the search backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	tokens    TokenSource
	observers []ResponseObserver
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets an overall per-call timeout. Zero keeps the transport
// default of no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// New constructs a backend client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTokenSource installs the source of bearer tokens.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

// Observe registers o to see every response.
func (c *Client) Observe(o ResponseObserver) {
	if o == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// DoJSON sends payload as JSON with the bearer token attached and decodes the
// response into out.
func (c *Client) DoJSON(ctx context.Context, method, path string, payload, out any) error {
	return c.doJSON(ctx, method, path, payload, out, true)
}

// DoAnonymousJSON is DoJSON without the bearer token, for login and signup.
func (c *Client) DoAnonymousJSON(ctx context.Context, method, path string, payload, out any) error {
	return c.doJSON(ctx, method, path, payload, out, false)
}

// DoMultipart uploads r as a single form file under field.
func (c *Client) DoMultipart(ctx context.Context, path, field, filename string, r io.Reader, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out, true)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any, withToken bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out, withToken)
}

func (c *Client) do(req *http.Request, out any, withToken bool) error {
	req.Header.Set("Accept", "application/json")
	if withToken {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	requestID := util.SetRequestID(req)
	logger := util.LoggerFromContext(req.Context())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("http_call_failed",
			"method", req.Method,
			"path", req.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
			"err", err,
		)
		return clienterr.NewConnection(err)
	}
	defer resp.Body.Close()
	logger.Debug("http_call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	for _, o := range c.snapshotObservers() {
		o.ObserveResponse(req, resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &APIError{Status: resp.StatusCode, Detail: ParseDetail(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("decode response: empty body")
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) token() string {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	return strings.TrimSpace(ts.Token())
}

func (c *Client) snapshotObservers() []ResponseObserver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.observers) == 0 {
		return nil
	}
	out := make([]ResponseObserver, len(c.observers))
	copy(out, c.observers)
	return out
}

// BearerToken returns the token a request was sent with, or "".
func BearerToken(req *http.Request) string {
	if req == nil {
		return ""
	}
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// ParseDetail extracts the backend's error message. The backend answers with
// {"detail": "..."} or, for validation failures, {"detail": [{"msg": "..."}]}.
func ParseDetail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if m := strings.TrimSpace(item.Msg); m != "" {
					msgs = append(msgs, m)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return strings.TrimSpace(body.Error)
}

// Failure converts a transport error into a client error of kind, using the
// backend detail when present and fallback otherwise. Connection errors pass
// through unchanged.
func Failure(kind clienterr.Kind, fallback string, err error) error {
	if err == nil {
		return nil
	}
	var ce *clienterr.Error
	if errors.As(err, &ce) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Detail
		if msg == "" {
			msg = fallback
		}
		return &clienterr.Error{Kind: kind, Status: apiErr.Status, Message: msg, Err: err}
	}
	return &clienterr.Error{Kind: kind, Message: fallback, Err: err}
}
