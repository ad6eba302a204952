package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Transport is an http.RoundTripper that serves requests addressed at the
// proxy surface by calling a Forwarder in-process, so the account client can
// use the same code path whether the proxy is local or remote.
type Transport struct {
	Forwarder *Forwarder
}

// NewTransport wraps f
func NewTransport(f *Forwarder) *Transport {
	return &Transport{Forwarder: f}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	query := req.URL.Query()
	suffix := ""
	if idx := strings.Index(req.URL.Path, MountPath); idx >= 0 {
		suffix = req.URL.Path[idx+len(MountPath):]
	}
	logical := LogicalPath(suffix, query)

	resp := t.Forwarder.Forward(req.Context(), &Request{
		Method: req.Method,
		Path:   logical,
		Query:  query,
		Header: req.Header.Clone(),
		Body:   body,
	})

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}
