// Package seedr is a typed client for the cloud account, spoken through the
// proxy surface so it shares the proxy's credential relay and rewriting.
package seedr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// InProcessURL is the placeholder origin used when the proxy runs in-process
const InProcessURL = "http://cinerelay.internal"

// Config controls how the client reaches the proxy
type Config struct {
	ProxyURL          string // origin serving /api/proxy
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables pacing
	StreamURLTTL      time.Duration
}

// Client talks to the account through the proxy surface
type Client struct {
	endpoint string
	http     *http.Client
	store    SessionStore
	limiter  *rate.Limiter
	urls     *cache.Cache
	logger   hclog.Logger
}

// NewClient creates a client that sends requests to cfg.ProxyURL
func NewClient(cfg Config, httpClient *http.Client, store SessionStore, logger hclog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if int(cfg.RequestsPerSecond) > burst {
			burst = int(cfg.RequestsPerSecond)
		}
	}

	ttl := cfg.StreamURLTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.ProxyURL, "/") + proxy.MountPath,
		http:     httpClient,
		store:    store,
		limiter:  rate.NewLimiter(limit, burst),
		urls:     cache.New(ttl, 2*ttl),
		logger:   logger,
	}
}

// NewInProcessClient routes every request through f without a network hop
func NewInProcessClient(cfg Config, f *proxy.Forwarder, store SessionStore, logger hclog.Logger) *Client {
	cfg.ProxyURL = InProcessURL
	return NewClient(cfg, &http.Client{Transport: proxy.NewTransport(f), Timeout: cfg.Timeout}, store, logger)
}

// WithStore returns a copy of the client bound to another session
func (c *Client) WithStore(store SessionStore) *Client {
	cp := *c
	cp.store = store
	return &cp
}

// Store returns the session store the client authenticates with
func (c *Client) Store() SessionStore {
	return c.store
}

// ListFolder lists one folder; "0" is the root
func (c *Client) ListFolder(ctx context.Context, folderID string) (*Listing, error) {
	op := "list_folder"
	body, err := c.do(ctx, op, http.MethodGet, "fs/folder/"+url.PathEscape(folderID)+"/items", nil, true)
	if err != nil {
		return nil, err
	}

	var wire wireListing
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	return wire.normalize(), nil
}

// SubmitJob hands a magnet link to the backend
func (c *Client) SubmitJob(ctx context.Context, magnet string) (*SubmitResult, error) {
	op := "submit_job"
	form := url.Values{
		"folder_id":      {"0"},
		"type":           {"torrent"},
		"torrent_magnet": {magnet},
	}
	body, err := c.do(ctx, op, http.MethodPost, "task", form, true)
	if err != nil {
		return nil, err
	}

	var wire wireSubmit
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	return wire.normalize(), nil
}

// DeleteItem removes an item. Deleting something that is already gone
// succeeds.
func (c *Client) DeleteItem(ctx context.Context, id string, kind ItemKind) error {
	op := "delete_item"
	payload, err := json.Marshal([]map[string]string{{"type": string(kind), "id": id}})
	if err != nil {
		return err
	}
	body, err := c.do(ctx, op, http.MethodPost, "fs/batch/delete", url.Values{"delete_arr": {string(payload)}}, true)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || isNotFound(se.Body)) {
			return nil
		}
		return err
	}

	var result struct {
		Success *flexBool `json:"success"`
		Result  *flexBool `json:"result"`
		Error   string    `json:"error"`
	}
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &result) != nil {
		return nil
	}
	failed := (result.Success != nil && !bool(*result.Success)) || (result.Result != nil && !bool(*result.Result))
	if failed && !isNotFound(result.Error) {
		return &StatusError{Op: op, StatusCode: http.StatusOK, Body: string(body)}
	}
	return nil
}

// ResolveStreamURL asks the backend for the playable URL of a file. Non-empty
// answers are cached per credential for the configured TTL.
func (c *Client) ResolveStreamURL(ctx context.Context, fileID string) (*StreamURL, error) {
	op := "resolve_stream_url"
	if c.store == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
	}
	cred, ok := c.store.Credential()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
	}
	cacheKey := cred.Key() + "/" + fileID
	if cached, ok := c.urls.Get(cacheKey); ok {
		return &StreamURL{URL: cached.(string)}, nil
	}

	body, err := c.do(ctx, op, http.MethodGet, "presentation/fs/item/"+url.PathEscape(fileID)+"/video/url", nil, true)
	if err != nil {
		return nil, err
	}

	var wire wireStreamURL
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	if wire.URL != "" {
		c.urls.SetDefault(cacheKey, wire.URL)
	}
	return &StreamURL{URL: wire.URL}, nil
}

// Login exchanges a username and password for a session credential. The
// proxy injects the raw Set-Cookie lines into the login body.
func (c *Client) Login(ctx context.Context, username, password string) (Credential, error) {
	op := "login"
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"rememberme": {"on"},
	}
	body, err := c.do(ctx, op, http.MethodPost, "auth/login", form, false)
	if err != nil {
		var se *StatusError
		if errors.Is(err, ErrSessionExpired) || errors.As(err, &se) {
			return Credential{}, fmt.Errorf("%s: %w", op, ErrLoginFailed)
		}
		return Credential{}, err
	}

	var wire wireLogin
	if err := json.Unmarshal(body, &wire); err != nil {
		return Credential{}, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	cred := CredentialFromSetCookies(wire.Cookies)
	if cred.Empty() {
		reason := firstNonEmpty(wire.Error, "no session cookie issued")
		return Credential{}, fmt.Errorf("%s: %w: %s", op, ErrLoginFailed, reason)
	}
	return cred, nil
}

func (c *Client) do(ctx context.Context, op, method, logical string, form url.Values, authenticated bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+"/"+logical, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if authenticated {
		if c.store == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
		}
		cred, ok := c.store.Credential()
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
		}
		req.Header.Set(proxy.CredentialHeader, cred.CookieHeader())
		if cred.Token != "" {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if authenticated {
			c.logger.Warn("session rejected by backend", "op", op, "status", resp.StatusCode)
			c.store.Invalidate(ErrSessionExpired)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
	case resp.StatusCode >= 300:
		if env, ok := proxy.IsProxyError(resp.StatusCode, body); ok {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrTransport, env.Message)
		}
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.Trace("call completed", "op", op, "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

func isNotFound(s string) bool {
	return strings.Contains(strings.ToLower(s), "not found")
}
