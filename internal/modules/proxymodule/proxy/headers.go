package proxy

import (
	"net/http"
	"strings"
)

// Request headers that must not be copied upstream. Accept-Encoding is dropped
// so the transport negotiates compression itself and hands back a
// decompressed body.
var requestDenylist = map[string]bool{
	"Host":                true,
	"Connection":          true,
	"Content-Length":      true,
	"Accept-Encoding":     true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Response headers that are never relayed. WWW-Authenticate would make the
// browser open its own credential prompt.
var responseDenylist = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Www-Authenticate":  true,
	"Keep-Alive":        true,
}

func (f *Forwarder) outboundHeader(in http.Header) http.Header {
	out := make(http.Header, len(in)+3)
	for key, values := range in {
		canonical := http.CanonicalHeaderKey(key)
		if requestDenylist[canonical] || canonical == CredentialHeader {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}

	if relayed := in.Get(CredentialHeader); relayed != "" {
		out.Set("Cookie", relayed)
	}

	if f.cfg.UserAgent != "" {
		out.Set("User-Agent", f.cfg.UserAgent)
	}
	out.Set("Referer", f.cfg.BaseURL+"/")
	out.Set("Origin", f.cfg.BaseURL)
	return out
}

func relayHeader(in http.Header, decompressed bool) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		canonical := http.CanonicalHeaderKey(key)
		if responseDenylist[canonical] {
			continue
		}
		if canonical == "Content-Encoding" && decompressed {
			continue
		}
		if canonical == "Set-Cookie" {
			for _, v := range values {
				out.Add("Set-Cookie", RewriteSetCookie(v))
			}
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	return out
}

// RewriteSetCookie re-scopes a Set-Cookie value to the proxy origin: the
// Domain attribute is removed and Path is forced to "/".
func RewriteSetCookie(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts)+1)
	hasPath := false

	for i, part := range parts {
		attr := strings.TrimSpace(part)
		if attr == "" {
			continue
		}
		if i == 0 {
			out = append(out, attr)
			continue
		}

		name := attr
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			name = attr[:eq]
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "domain":
			continue
		case "path":
			if !hasPath {
				out = append(out, "Path=/")
				hasPath = true
			}
			continue
		}
		out = append(out, attr)
	}

	if !hasPath {
		out = append(out, "Path=/")
	}
	return strings.Join(out, "; ")
}
