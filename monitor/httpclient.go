package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrSessionInvalid is returned when the server rejects the session.
var ErrSessionInvalid = errors.New("session invalid")

const (
	statusPath        = "/session/status"
	extendPath        = "/session/extend"
	logoutPath        = "/session/logout"
	monitorConfigPath = "/api/monitor-config"
)

// HTTPClient implements Client against the portal's session endpoints. The
// session cookie is carried by the http.Client's jar. Anything other than a
// success status counts as an invalid session.
type HTTPClient struct {
	base *url.URL
	hc   *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for the portal at baseURL. hc should carry a
// cookie jar holding the session cookie; nil uses http.DefaultClient.
func NewHTTPClient(baseURL string, hc *http.Client) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("monitor: invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("monitor: base URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{base: u, hc: hc}, nil
}

func (c *HTTPClient) Check(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, statusPath, http.StatusOK)
}

func (c *HTTPClient) Extend(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, extendPath, http.StatusOK)
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, logoutPath, http.StatusNoContent)
}

// FetchConfig reads the monitor timings published by the server.
func (c *HTTPClient) FetchConfig(ctx context.Context) (Config, error) {
	resp, err := c.request(ctx, http.MethodGet, monitorConfigPath)
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Config{}, fmt.Errorf("monitor: fetch config: %w (status %d)", ErrSessionInvalid, resp.StatusCode)
	}
	var w WireConfig
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return Config{}, fmt.Errorf("monitor: decode config: %w", err)
	}
	return w.Config(), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, want int) error {
	resp, err := c.request(ctx, method, path)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("monitor: %s %s: %w (status %d)", method, path, ErrSessionInvalid, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) request(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor: %s %s: %w", method, path, err)
	}
	return resp, nil
}
