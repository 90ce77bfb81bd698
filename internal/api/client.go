package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
)

const DefaultBaseURL = "http://localhost:8080"

// HTTPDoer matches net/http.Client's Do signature for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the report backend. A default bearer credential, once set,
// is attached to every outgoing request until cleared.
type Client struct {
	baseURL string
	http    HTTPDoer
	logger  log.Interface

	mu     sync.RWMutex
	bearer string
}

type Option func(*Client)

func WithLogger(l log.Interface) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, doer HTTPDoer, opts ...Option) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 60 * time.Second}
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		baseURL: base,
		http:    doer,
		logger:  log.Log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// SetBearer installs the default credential for outgoing requests.
func (c *Client) SetBearer(credential string) {
	c.mu.Lock()
	c.bearer = strings.TrimSpace(credential)
	c.mu.Unlock()
}

// ClearBearer removes the default credential.
func (c *Client) ClearBearer() {
	c.mu.Lock()
	c.bearer = ""
	c.mu.Unlock()
}

func (c *Client) Bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// send performs the request and returns the raw response body of a 2xx reply.
// Anything else becomes a *FetchError.
func (c *Client) send(ctx context.Context, r request) ([]byte, http.Header, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return nil, nil, &FetchError{Op: r.op, Method: r.method, Path: r.path, Err: err}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if tok := c.Bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	logger := c.logger.WithFields(log.Fields{
		"op":         r.op,
		"method":     r.method,
		"path":       r.path,
		"request_id": reqID,
	})
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.WithError(err).Warn("request failed")
		return nil, nil, &FetchError{Op: r.op, Method: r.method, Path: r.path, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	logger = logger.WithFields(log.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		logger.WithError(err).Warn("read response body")
		return nil, nil, &FetchError{Op: r.op, Method: r.method, Path: r.path, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &FetchError{
			Op:     r.op,
			Method: r.method,
			Path:   r.path,
			Status: resp.StatusCode,
			Detail: parseDetail(b),
		}
		logger.WithField("detail", fe.Detail).Warn("request rejected")
		return nil, nil, fe
	}
	logger.Debug("request ok")
	return b, resp.Header, nil
}

// call sends r and decodes a JSON reply into out (when non-nil).
func (c *Client) call(ctx context.Context, r request, out any) error {
	b, _, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &FetchError{Op: r.op, Method: r.method, Path: r.path, Status: http.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
