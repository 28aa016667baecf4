// Package transport speaks the backend's login, token and JSON-RPC protocols.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/and161185/untis-auth/internal/cookiejar"
	"github.com/and161185/untis-auth/internal/errs"
	"go.uber.org/zap"
)

// MaxResponseSize bounds every response body read by the client.
const MaxResponseSize = 4 << 20

// ErrResponseTooLarge is returned when a response exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("response too large")

// Default timeouts.
const (
	DefaultProtocolTimeout = 10 * time.Second
	DefaultMetadataTimeout = 15 * time.Second
)

// Options configures a Client. Zero fields take defaults.
type Options struct {
	HTTPClient      *http.Client
	Scheme          string // "https" unless overridden (tests use "http")
	ProtocolTimeout time.Duration
	MetadataTimeout time.Duration
	Now             func() time.Time
}

// Client encodes the backend protocols. It owns a cookie jar and keeps no other state.
type Client struct {
	httpClient      *http.Client
	scheme          string
	protocolTimeout time.Duration
	metadataTimeout time.Duration
	now             func() time.Time
	jar             *cookiejar.Jar
	log             *zap.Logger
}

// New constructs a Client.
func New(log *zap.Logger, opts Options) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		httpClient:      opts.HTTPClient,
		scheme:          opts.Scheme,
		protocolTimeout: opts.ProtocolTimeout,
		metadataTimeout: opts.MetadataTimeout,
		now:             opts.Now,
		jar:             cookiejar.New(),
		log:             log,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient = withLogging(c.httpClient, log)
	if c.scheme == "" {
		c.scheme = "https"
	}
	if c.protocolTimeout <= 0 {
		c.protocolTimeout = DefaultProtocolTimeout
	}
	if c.metadataTimeout <= 0 {
		c.metadataTimeout = DefaultMetadataTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Jar exposes the client's cookie jar.
func (c *Client) Jar() *cookiejar.Jar { return c.jar }

func (c *Client) endpoint(server, path string, query url.Values) string {
	u := url.URL{Scheme: c.scheme, Host: server, Path: path}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// response is a fully read HTTP response.
type response struct {
	status  int
	header  http.Header
	body    []byte
	cookies []string
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, target string, headers map[string]string, payload any) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := readLimitedResponse(resp.Body, MaxResponseSize)
	if err != nil {
		return nil, err
	}
	return &response{
		status:  resp.StatusCode,
		header:  resp.Header,
		body:    data,
		cookies: resp.Header.Values("Set-Cookie"),
	}, nil
}

func readLimitedResponse(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// statusError builds a StatusError for a non-200 response, trimming the body.
func statusError(op string, r *response) error {
	body := string(r.body)
	if len(body) > 200 {
		body = body[:200]
	}
	return &errs.StatusError{Op: op, StatusCode: r.status, Body: body}
}
