// Package backend is the REST client for the dashboard server's
// request/response API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
)

var ErrNotFound = errors.New("not found")

// APIError carries a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	auth       core.AuthProvider
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithAuth sends the operator token as a bearer credential.
func WithAuth(p core.AuthProvider) Option {
	return func(o *options) { o.auth = p }
}

// Client implements core.Backend.
type Client struct {
	baseURL string
	http    *http.Client
	auth    core.AuthProvider
}

func NewClient(baseURL string, opts ...Option) *Client {
	o := &options{httpClient: newDefaultHTTPClient()}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    o.httpClient,
		auth:    o.auth,
	}
}

func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func (c *Client) GetCalls(ctx context.Context, filters domain.CallFilters) ([]*domain.Call, error) {
	var out []*domain.Call
	path := "/api/calls"
	if q := filters.Values().Encode(); q != "" {
		path += "?" + q
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetActiveCalls(ctx context.Context) ([]*domain.Call, error) {
	var out []*domain.Call
	if err := c.do(ctx, http.MethodGet, "/api/calls/active", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetCallDetails(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var out domain.Call
	if err := c.do(ctx, http.MethodGet, callPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCallTranscript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error) {
	var out []domain.TranscriptEntry
	if err := c.do(ctx, http.MethodGet, callPath(id, "transcript"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InitializeCall(ctx context.Context, req domain.InitializeCallRequest) (*domain.Call, error) {
	var out domain.Call
	if err := c.do(ctx, http.MethodPost, "/api/calls/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelCall(ctx context.Context, id domain.CallID) error {
	return c.do(ctx, http.MethodPost, callPath(id, "cancel"), nil, nil)
}

func (c *Client) RetryCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var out domain.Call
	if err := c.do(ctx, http.MethodPost, callPath(id, "retry"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAnalytics(ctx context.Context, days int) (*domain.Analytics, error) {
	var out domain.Analytics
	path := "/api/analytics?" + url.Values{"days": {strconv.Itoa(days)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func callPath(id domain.CallID, action string) string {
	p := "/api/calls/" + url.PathEscape(string(id))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if tok := c.auth.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	log.Debug().
		Str("module", "backend").
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
