// Package backend is the typed client for the DMARC report backend's
// /api surface.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"dmarc-dash/internal/metrics"
	"dmarc-dash/internal/util"
)

// TokenSource supplies the bearer credential for protected calls.
type TokenSource interface {
	Token() string
}

// Client talks to the backend REST API.
//
// A 401 on a call that carried the session token is reported to
// OnUnauthorized, with the token the call used, before the error is
// returned, so session expiry is handled in one place rather than by every
// caller.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client

	Tokens         TokenSource
	OnUnauthorized func(token string, err error)
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// NewClient constructs a backend client.
func NewClient(base string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse api base url: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: u,
		HTTP: &http.Client{
			Timeout: timeout,
		},
		Logger: slog.Default(),
	}, nil
}

// call describes one request.
type call struct {
	method      string
	route       string // template used for metrics and errors
	path        string // escaped path
	query       url.Values
	body        io.Reader
	contentType string

	// auth attaches the session token when one is available.
	auth bool
	// token overrides the session token (session restore).
	token string
}

func jsonCall(method, route, path string, payload any) (call, error) {
	c := call{method: method, route: route, path: path}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return c, err
		}
		c.body = bytes.NewReader(b)
		c.contentType = "application/json"
	}
	return c, nil
}

// do executes c and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Route: cl.route, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send performs the round trip and converts non-2xx responses into *Error.
// On success the caller owns resp.Body.
func (c *Client) send(ctx context.Context, cl call) (*http.Response, error) {
	ref, err := url.Parse(cl.path)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Route: cl.route, Err: err}
	}
	u := c.BaseURL.ResolveReference(ref)
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), cl.body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Route: cl.route, Err: err}
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	token := cl.token
	if token == "" && cl.auth && c.Tokens != nil {
		token = c.Tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Metrics.RecordBackendCall(cl.route, 0, time.Since(start))
		c.logger().Debug("backend call failed", "route", cl.route, "err", err)
		return nil, &Error{Kind: KindNetwork, Route: cl.route, Err: err}
	}
	c.Metrics.RecordBackendCall(cl.route, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	buf, _ := ioReadAllLimit(resp.Body, 64*1024)
	apiErr := &Error{
		Kind:   kindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
		Route:  cl.route,
		Detail: detailFrom(buf),
	}
	c.logger().Debug("backend call rejected", "route", cl.route, "status", resp.StatusCode, "detail", apiErr.Detail)

	// Session restore passes its token explicitly and handles its own failure.
	if resp.StatusCode == http.StatusUnauthorized && cl.token == "" && token != "" && c.OnUnauthorized != nil {
		c.OnUnauthorized(token, apiErr)
	}
	return nil, apiErr
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// detailFrom extracts a string "detail" field from an error body. Anything
// else (absent, list of validation errors, non-JSON) yields "".
func detailFrom(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	m, err := util.DecodeJSONMap(body)
	if err != nil {
		return ""
	}
	if s, ok := util.ToString(m["detail"]); ok {
		return s
	}
	if s, ok := util.ToString(m["message"]); ok {
		return s
	}
	return ""
}

func ioReadAllLimit(r io.Reader, max int64) ([]byte, error) {
	buf := &bytes.Buffer{}
	if max <= 0 {
		return io.ReadAll(r)
	}
	_, err := io.CopyN(buf, r, max+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	b := buf.Bytes()
	if int64(len(b)) > max {
		return b[:max], nil
	}
	return b, nil
}
