package proxy

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// Handler exposes a Forwarder on the gin router
type Handler struct {
	forwarder *Forwarder
	logger    hclog.Logger
}

// NewHandler creates a new proxy HTTP handler
func NewHandler(forwarder *Forwarder, logger hclog.Logger) *Handler {
	return &Handler{forwarder: forwarder, logger: logger}
}

// RegisterRoutes mounts the proxy surface. The logical path may be given as
// ?path=… or as a path suffix.
func RegisterRoutes(router gin.IRouter, handler *Handler) {
	router.Any(MountPath, handler.Proxy)
	router.Any(MountPath+"/*path", handler.Proxy)
}

// Proxy handles ANY /api/proxy
func (h *Handler) Proxy(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusOK)
		return
	}

	query := c.Request.URL.Query()
	logical := LogicalPath(c.Param("path"), query)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		resp := errorResponse(http.StatusBadRequest, "Bad Request", err.Error(), "failed reading request body")
		writeResponse(c, resp)
		return
	}

	resp := h.forwarder.Forward(c.Request.Context(), &Request{
		Method: c.Request.Method,
		Path:   logical,
		Query:  query,
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	writeResponse(c, resp)
}

// LogicalPath extracts the logical path and removes it from query. A repeated
// ?path= is joined with "/".
func LogicalPath(suffix string, query map[string][]string) string {
	if p := CleanPath(suffix); p != "" {
		delete(query, "path")
		return p
	}
	p := strings.Join(query["path"], "/")
	delete(query, "path")
	return CleanPath(p)
}

func writeResponse(c *gin.Context, resp *Response) {
	header := c.Writer.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	c.Status(resp.StatusCode)
	if len(resp.Body) > 0 && c.Request.Method != http.MethodHead {
		c.Writer.Write(resp.Body)
	}
}
