// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/portdrop/internal/errors"
)

// Client talks to a running portdrop control plane.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at addr (host:port or a full
// http:// URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Stats fetches one statistics snapshot.
func (c *Client) Stats(ctx context.Context) (StatsMessage, error) {
	var msg StatsMessage
	err := c.do(ctx, http.MethodGet, PathStats, nil, &msg)
	return msg, err
}

// Port fetches the configured port.
func (c *Client) Port(ctx context.Context) (PortMessage, error) {
	var msg PortMessage
	err := c.do(ctx, http.MethodGet, PathPort, nil, &msg)
	return msg, err
}

// SetPort reconfigures the filter to drop port.
func (c *Client) SetPort(ctx context.Context, port int) (PortMessage, error) {
	var msg PortMessage
	err := c.do(ctx, http.MethodPut, PathPort, PortMessage{Port: port}, &msg)
	return msg, err
}

// ClearPort makes the filter pass everything.
func (c *Client) ClearPort(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, PathPort, nil, nil)
}

// Health fetches the health report. An unhealthy filter is not an error.
func (c *Client) Health(ctx context.Context) (HealthMessage, error) {
	var msg HealthMessage
	err := c.do(ctx, http.MethodGet, PathHealth, nil, &msg)
	if err != nil && errors.GetKind(err) == errors.KindUnavailable && msg.Timestamp != 0 {
		return msg, nil
	}
	return msg, err
}

// Stream calls fn for every frame of the stats stream until ctx ends, the
// server closes the stream or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(StatsMessage) error) error {
	u, err := url.Parse(c.base + PathStatsStream)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid API address")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to open stats stream"), "url", u.String())
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg StatsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, errors.KindUnavailable, "stats stream ended")
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to encode request")
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "control plane unreachable"), "url", c.base)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to read response")
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return errors.Wrap(err, errors.KindInternal, "failed to decode response")
		}
	}
	if resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, data)
	}
	return nil
}

// responseError turns an API error body back into a structured error.
func responseError(code int, data []byte) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Error == "" {
		body.Error = fmt.Sprintf("unexpected status %d", code)
	}

	kind := errors.KindInternal
	switch code {
	case http.StatusBadRequest:
		kind = errors.KindValidation
	case http.StatusNotFound:
		kind = errors.KindNotFound
	case http.StatusForbidden:
		kind = errors.KindPermission
	case http.StatusConflict:
		kind = errors.KindConflict
	case http.StatusServiceUnavailable:
		kind = errors.KindUnavailable
	}
	return errors.Attr(errors.New(kind, body.Error), "status", code)
}
