package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"mediaproxy/work/buffer"
	"mediaproxy/work/config"
	"mediaproxy/work/logger"
	"mediaproxy/work/metrics"
	"mediaproxy/work/utils"
)

// ErrInvalidTarget is returned for targets that are not absolute http(s) URLs.
var ErrInvalidTarget = errors.New("invalid upstream target")

// Outbound is what the proxy forwards upstream on behalf of a player: the
// filtered request headers and the request body, if any.
type Outbound struct {
	Header http.Header
	Body   []byte
}

// OutboundFromRequest captures the forwardable parts of a player request.
// The body is read only when the request declares a positive length.
func OutboundFromRequest(r *http.Request) (Outbound, error) {
	out := Outbound{Header: filterRequest(r.Header)}
	if r.ContentLength > 0 && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, r.ContentLength))
		if err != nil {
			return out, fmt.Errorf("reading request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

// Clone returns a copy safe to modify.
func (o Outbound) Clone() Outbound {
	return Outbound{Header: o.Header.Clone(), Body: o.Body}
}

// Client issues upstream requests through per-host sessions and wraps the
// responses into Envelopes.
type Client struct {
	config    *config.Config
	sessions  *SessionPool
	buffers   *buffer.BufferPool
	proxyPath atomic.Pointer[string]
}

// New creates a Client. Response bodies are backed by streams from buffers.
func New(cfg *config.Config, buffers *buffer.BufferPool) *Client {
	c := &Client{
		config:   cfg,
		sessions: NewSessionPool(cfg.UpstreamTimeout, cfg.UpstreamRateLimit),
		buffers:  buffers,
	}
	c.SetProxyPath(cfg.ProxyPath())
	return c
}

// SetProxyPath sets the prefix used when rewriting redirect locations.
func (c *Client) SetProxyPath(p string) {
	c.proxyPath.Store(&p)
}

// ProxyPath returns the current proxy prefix.
func (c *Client) ProxyPath() string {
	return *c.proxyPath.Load()
}

// Sessions exposes the session pool.
func (c *Client) Sessions() *SessionPool {
	return c.sessions
}

// Do sends method to target with the outbound headers and body. The returned
// Envelope owns the response body and must be closed. Errors are returned only
// when no upstream response was received.
func (c *Client) Do(ctx context.Context, method, target string, out Outbound) (*Envelope, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, utils.LogURL(c.config, target))
	}

	var body io.Reader
	if len(out.Body) > 0 {
		body = bytes.NewReader(out.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if out.Header != nil {
		req.Header = filterRequest(out.Header)
	}
	req.Host = u.Host

	sess := c.sessions.Get(u.Hostname())
	resp, err := sess.Do(req)
	if err != nil {
		metrics.UpstreamResponses.WithLabelValues("error").Inc()
		logger.Debug("{client/client - Do} %s %s failed: %v", method, utils.LogURL(c.config, target), err)
		return nil, fmt.Errorf("%s %s: %w", method, utils.LogURL(c.config, target), err)
	}
	metrics.UpstreamResponses.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	return c.envelope(resp, target), nil
}

// envelope filters the response headers, decodes the body and restores the
// redirect location as a proxy URL.
func (c *Client) envelope(resp *http.Response, target string) *Envelope {
	header := filterResponse(resp.Header)

	raw := resp.Body
	decoded, ok := decodeBody(raw, header.Get("_content-encoding"))
	if !ok {
		// Undecodable bodies go out as received, so the player must see the encoding.
		header["content-encoding"] = header["_content-encoding"]
		delete(header, "_content-encoding")
		logger.Debug("{client/client - envelope} Passing through unsupported encoding %q", header.Get("content-encoding"))
	}

	if loc := header.Get("_location"); loc != "" {
		header.Set("location", utils.ProxyURL(c.ProxyPath(), utils.ResolveURL(target, loc)))
	}

	return &Envelope{
		Status: resp.StatusCode,
		Header: header,
		URL:    target,
		Stream: c.buffers.NewStream(decoded),
	}
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
