package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/internal/infrastructure/middleware"
	"livesignal/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ChannelTokenIssuer mints the short-lived tokens a client presents when it
// opens its signaling channel.
type ChannelTokenIssuer interface {
	IssueChannelToken(sessionID domain.SessionID, role domain.Role, identity domain.Identity) (string, error)
	ChannelTokenTTL() time.Duration
}

type LiveHandler struct {
	sessions ports.SessionService
	tokens   ChannelTokenIssuer
}

var _ ports.HTTPHandler = (*LiveHandler)(nil)

func NewLiveHandler(sessions ports.SessionService, tokens ChannelTokenIssuer) *LiveHandler {
	return &LiveHandler{
		sessions: sessions,
		tokens:   tokens,
	}
}

// SetupRoutes registers the control plane under /live. Every route requires
// auth.
func (h *LiveHandler) SetupRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	live := router.Group("/live", auth)
	{
		live.POST("/start", h.StartSession)
		live.POST("/join", h.JoinSession)
		live.POST("/stop", h.StopSession)
		live.GET("/sessions", h.ListSessions)
		live.GET("/sessions/:id", h.GetSession)
	}
}

type startRequest struct {
	MaxViewers int `json:"maxViewers" binding:"min=0"`
}

type sessionRequest struct {
	SessionID domain.SessionID `json:"sessionId" binding:"required"`
}

func (h *LiveHandler) StartSession(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		_ = c.Error(domain.ErrUnauthenticated)
		return
	}

	var req startRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	rec, err := h.sessions.StartSession(c.Request.Context(), identity, req.MaxViewers)
	if err != nil {
		_ = c.Error(err)
		return
	}

	token, err := h.tokens.IssueChannelToken(rec.ID, domain.RoleBroadcaster, identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId":    rec.ID,
		"channelToken": token,
		"state":        rec.State,
		"expiresIn":    int(h.tokens.ChannelTokenTTL().Seconds()),
	})
}

func (h *LiveHandler) JoinSession(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		_ = c.Error(domain.ErrUnauthenticated)
		return
	}

	req, err := bindSession(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	rec, err := h.sessions.PrepareJoin(c.Request.Context(), req.SessionID, identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	token, err := h.tokens.IssueChannelToken(rec.ID, domain.RoleViewer, identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":    rec.ID,
		"channelToken": token,
		"expiresIn":    int(h.tokens.ChannelTokenTTL().Seconds()),
	})
}

func (h *LiveHandler) StopSession(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		_ = c.Error(domain.ErrUnauthenticated)
		return
	}

	req, err := bindSession(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	rec, err := h.sessions.StopSession(c.Request.Context(), req.SessionID, identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": rec.ID,
		"state":     rec.State,
	})
}

func (h *LiveHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		_ = c.Error(fmt.Errorf("%w: %v", domain.ErrInvalid, err))
		return
	}

	rec, err := h.sessions.GetSession(c.Request.Context(), domain.SessionID(id))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": rec,
	})
}

func (h *LiveHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func bindSession(c *gin.Context) (*sessionRequest, error) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	if err := validation.ValidateSessionID(string(req.SessionID)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	return &req, nil
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalid, err)
}
