// Package proxy relays requests from the application's own origin to the
// cloud backend and rewrites the exchange so a browser can consume it:
// the session credential travels in a custom header and is re-homed onto
// Cookie, Set-Cookie is re-scoped to the proxy origin, and headers that would
// break framing or pop native auth dialogs are dropped.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/metrics"
)

const (
	// CredentialHeader carries the session cookies from the client to the proxy
	CredentialHeader = "X-Seedr-Cookie"

	// MountPath is where the proxy surface is served
	MountPath = "/api/proxy"

	upstreamAuth = "auth"
	upstreamRest = "rest"
)

// Config describes the upstream the forwarder talks to
type Config struct {
	BaseURL    string // e.g. https://www.seedr.cc
	RestPrefix string // e.g. /rest
	UserAgent  string
	Timeout    time.Duration
}

// Request is a logical request arriving at the proxy
type Request struct {
	Method string
	Path   string // logical path, e.g. "fs/folder/0/items" or "auth/login"
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is what the proxy hands back to its caller
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ErrorEnvelope is the body of every response the proxy fabricates itself
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// Forwarder performs the upstream round trip. It never returns an error:
// every failure is converted into a Response carrying an ErrorEnvelope.
type Forwarder struct {
	cfg    Config
	client *http.Client
	logger hclog.Logger
}

// NewForwarder creates a forwarder with an HTTP client that never follows redirects
func NewForwarder(cfg Config, logger hclog.Logger) *Forwarder {
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return NewForwarderWithClient(cfg, client, logger)
}

// NewForwarderWithClient lets callers supply their own client; redirects are
// still disabled on a copy of it.
func NewForwarderWithClient(cfg Config, client *http.Client, logger hclog.Logger) *Forwarder {
	clientCopy := *client
	clientCopy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Forwarder{cfg: cfg, client: &clientCopy, logger: logger}
}

// Forward relays req upstream and returns the rewritten response
func (f *Forwarder) Forward(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("proxy panic", "path", req.Path, "panic", r)
			resp = errorResponse(http.StatusInternalServerError, "Proxy Error", fmt.Sprint(r), "internal error")
		}
	}()

	logical := CleanPath(req.Path)
	target, upstream := f.Resolve(logical, req.Query)

	body, contentType, err := encodeBody(req.Method, req.Header.Get("Content-Type"), req.Body)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Bad Request", err.Error(), "request body could not be re-encoded")
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(body))
	if err != nil {
		return errorResponse(http.StatusBadGateway, "Proxy Error", err.Error(), "No details")
	}
	outReq.Header = f.outboundHeader(req.Header)
	if contentType != "" {
		outReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	upResp, err := f.client.Do(outReq)
	metrics.ProxyDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
	if err != nil {
		f.logger.Warn("upstream request failed", "method", req.Method, "path", logical, "error", err)
		metrics.ProxyRequests.WithLabelValues(upstream, "error").Inc()
		return errorResponse(http.StatusBadGateway, "Proxy Error", err.Error(), "No details")
	}
	defer upResp.Body.Close()

	respBody, err := io.ReadAll(upResp.Body)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(upstream, "error").Inc()
		return errorResponse(http.StatusBadGateway, "Proxy Error", err.Error(), "failed reading upstream body")
	}
	metrics.ProxyRequests.WithLabelValues(upstream, strconv.Itoa(upResp.StatusCode)).Inc()

	header := relayHeader(upResp.Header, upResp.Uncompressed)

	if strings.Contains(logical, "auth/login") {
		if cookies := upResp.Header.Values("Set-Cookie"); len(cookies) > 0 {
			if injected, ok := injectCookies(respBody, cookies); ok {
				respBody = injected
				header.Set("Content-Type", "application/json; charset=utf-8")
			} else {
				f.logger.Warn("login response was not a JSON object, cookies not injected")
			}
		}
	}

	f.logger.Debug("relayed", "method", req.Method, "path", logical, "status", upResp.StatusCode, "bytes", len(respBody))

	return &Response{StatusCode: upResp.StatusCode, Header: header, Body: respBody}
}

// Resolve maps a logical path onto its upstream URL. Session endpoints live at
// the backend root, resources under the REST prefix.
func (f *Forwarder) Resolve(logical string, query url.Values) (target string, upstream string) {
	base := f.cfg.BaseURL + f.cfg.RestPrefix
	upstream = upstreamRest
	if strings.HasPrefix(logical, "auth/") || strings.HasPrefix(logical, "oauth/") {
		base = f.cfg.BaseURL
		upstream = upstreamAuth
	}

	target = base + "/" + logical
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target, upstream
}

// CleanPath strips the leading slashes a client may send
func CleanPath(p string) string {
	return strings.TrimLeft(p, "/")
}

func injectCookies(body []byte, cookies []string) ([]byte, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, false
	}
	payload["cookies"] = cookies
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return out, true
}

func errorResponse(status int, title, message, details string) *Response {
	body, _ := json.Marshal(ErrorEnvelope{Error: title, Message: message, Details: details})
	header := make(http.Header)
	header.Set("Content-Type", "application/json; charset=utf-8")
	return &Response{StatusCode: status, Header: header, Body: body}
}

// IsProxyError reports whether body is an envelope fabricated by the proxy
// (as opposed to an upstream error relayed verbatim).
func IsProxyError(status int, body []byte) (*ErrorEnvelope, bool) {
	if status < 500 {
		return nil, false
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error != "Proxy Error" {
		return nil, false
	}
	return &env, true
}
