// Package api exposes acquisitions over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	sharedapi "github.com/mantonx/cinerelay/internal/api"
	"github.com/mantonx/cinerelay/internal/events"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/core"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/models"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"gorm.io/gorm"
)

// Authenticator performs the login flow
type Authenticator interface {
	Login(ctx context.Context, username, password string) (seedr.Credential, error)
}

// HistoryReader reads finished runs
type HistoryReader interface {
	Get(ctx context.Context, id string) (*models.AcquisitionRecord, error)
	Recent(ctx context.Context, sessionKey string, limit int) ([]models.AcquisitionRecord, error)
}

// Handler serves the acquisition API
type Handler struct {
	manager  *core.Manager
	auth     Authenticator
	history  HistoryReader // optional
	bus      events.EventBus
	upgrader websocket.Upgrader
	logger   hclog.Logger
}

// NewHandler creates the API handler. history and bus may be nil.
func NewHandler(manager *core.Manager, auth Authenticator, history HistoryReader, bus events.EventBus, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		manager: manager,
		auth:    auth,
		history: history,
		bus:     bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type startRequest struct {
	Source string `json:"source" binding:"required"` // info hash or magnet URI
	Title  string `json:"title" binding:"required"`
}

// Login handles POST /api/session/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sharedapi.RespondWithValidationError(c, "username and password are required")
		return
	}

	cred, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, seedr.ErrLoginFailed) {
			c.JSON(http.StatusUnauthorized, sharedapi.ErrorResponse{
				Error: sharedapi.ErrorDetails{
					Code:      "login_failed",
					Message:   err.Error(),
					RequestID: c.GetString("request_id"),
				},
			})
			return
		}
		sharedapi.RespondWithError(c, acqerrors.Transport("login", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cookies": cred.CookieHeader(),
		"token":   cred.Token,
	})
}

// StartAcquisition handles POST /api/acquisitions
func (h *Handler) StartAcquisition(c *gin.Context) {
	cred, ok := credentialFrom(c.Request)
	if !ok {
		sharedapi.RespondWithValidationError(c, "missing "+proxy.CredentialHeader+" header")
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sharedapi.RespondWithValidationError(c, "source and title are required")
		return
	}
	if _, _, err := core.BuildMagnet(req.Source, req.Title, nil); err != nil {
		sharedapi.RespondWithError(c, err)
		return
	}

	run, err := h.manager.Start(cred.Key(), seedr.NewMemoryStore(cred), core.Submission{
		Source: strings.TrimSpace(req.Source),
		Title:  strings.TrimSpace(req.Title),
	})
	if err != nil {
		sharedapi.RespondWithError(c, err)
		return
	}

	c.Header("Location", "/api/acquisitions/"+run.ID())
	c.JSON(http.StatusAccepted, run.Snapshot())
}

// GetAcquisition handles GET /api/acquisitions/:id. Runs of other sessions
// are reported as not found.
func (h *Handler) GetAcquisition(c *gin.Context) {
	sessionKey, ok := h.requireSession(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if run, ok := h.ownedRun(id, sessionKey); ok {
		c.JSON(http.StatusOK, run.Snapshot())
		return
	}

	if h.history != nil {
		rec, err := h.history.Get(c.Request.Context(), id)
		if err == nil && rec.SessionKey == sessionKey {
			c.JSON(http.StatusOK, rec)
			return
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			sharedapi.RespondWithError(c, err)
			return
		}
	}
	sharedapi.RespondWithNotFound(c, "acquisition", id)
}

// CancelAcquisition handles DELETE /api/acquisitions/:id
func (h *Handler) CancelAcquisition(c *gin.Context) {
	sessionKey, ok := h.requireSession(c)
	if !ok {
		return
	}

	id := c.Param("id")
	run, ok := h.ownedRun(id, sessionKey)
	if !ok {
		sharedapi.RespondWithNotFound(c, "acquisition", id)
		return
	}
	if err := h.manager.Cancel(id); err != nil {
		if errors.Is(err, acqerrors.ErrRunNotFound) {
			sharedapi.RespondWithNotFound(c, "acquisition", id)
			return
		}
		sharedapi.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run.Snapshot())
}

// ListAcquisitions handles GET /api/acquisitions for the calling session
func (h *Handler) ListAcquisitions(c *gin.Context) {
	sessionKey, ok := h.requireSession(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if h.history != nil {
		records, err := h.history.Recent(c.Request.Context(), sessionKey, limit)
		if err != nil {
			sharedapi.RespondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"acquisitions": records, "count": len(records)})
		return
	}

	runs := []core.RunSnapshot{}
	for _, snap := range h.manager.Runs() {
		if snap.SessionKey != sessionKey {
			continue
		}
		if limit > 0 && len(runs) >= limit {
			break
		}
		runs = append(runs, snap)
	}
	c.JSON(http.StatusOK, gin.H{"acquisitions": runs, "count": len(runs)})
}

// requireSession answers 400 and returns false when the request carries no
// credential.
func (h *Handler) requireSession(c *gin.Context) (string, bool) {
	cred, ok := credentialFrom(c.Request)
	if !ok {
		sharedapi.RespondWithValidationError(c, "missing "+proxy.CredentialHeader+" header")
		return "", false
	}
	return cred.Key(), true
}

// ownedRun returns the live run id when it belongs to sessionKey
func (h *Handler) ownedRun(id, sessionKey string) (*core.Run, bool) {
	run, ok := h.manager.Get(id)
	if !ok || run.Snapshot().SessionKey != sessionKey {
		return nil, false
	}
	return run, true
}

// credentialFrom reads the relayed cookie string and an optional bearer token
func credentialFrom(r *http.Request) (seedr.Credential, bool) {
	cred := seedr.ParseCookieHeader(r.Header.Get(proxy.CredentialHeader))
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && cred.Token == "" {
		cred.Token = strings.TrimSpace(token)
	}
	return cred, !cred.Empty()
}
