package handlers

import (
	"net/http"

	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// VisitorHandler serves visitor tracking and the live stats feed
type VisitorHandler struct {
	service *services.VisitorService
	hub     *broadcast.Hub
}

// NewVisitorHandler creates a new visitor handler. hub may be nil, in which
// case the websocket route answers 503.
func NewVisitorHandler(service *services.VisitorService, hub *broadcast.Hub) *VisitorHandler {
	return &VisitorHandler{service: service, hub: hub}
}

// RegisterRoutes mounts the visitor routes
func (h *VisitorHandler) RegisterRoutes(api *gin.RouterGroup, root *gin.Engine) {
	api.POST("/visitor/session", h.HandleSession)
	api.POST("/visitor/pageview", h.HandlePageView)
	api.GET("/visitor/stats", h.HandleStats)
	root.GET("/ws/live-stats", h.HandleLiveStats)
}

type sessionRequest struct {
	Page     string `json:"page"`
	Referrer string `json:"referrer"`
}

// HandleSession records a visit and sets the session cookie
func (h *VisitorHandler) HandleSession(c *gin.Context) {
	var body sessionRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &body) {
			return
		}
	}

	existing, _ := c.Cookie(services.SessionCookieName)
	referrer := body.Referrer
	if referrer == "" {
		referrer = c.Request.Referer()
	}

	sessionID, err := h.service.TrackSession(c.Request.Context(), services.SessionInput{
		SessionID: existing,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  referrer,
		Page:      body.Page,
		Header:    c.Request.Header,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(services.SessionCookieName, sessionID, int(services.SessionCookieTTL.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{
		"status":    "SUCCESS",
		"sessionId": sessionID,
		"message":   "Session tracked successfully",
	})
}

// HandlePageView records navigation within a session
func (h *VisitorHandler) HandlePageView(c *gin.Context) {
	var in services.PageViewInput
	if !bindJSON(c, &in) {
		return
	}
	if in.SessionID == "" {
		in.SessionID, _ = c.Cookie(services.SessionCookieName)
	}

	if err := h.service.TrackPageView(c.Request.Context(), in); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "SUCCESS", "message": "Page view tracked"})
}

// HandleStats returns the last known live stats
func (h *VisitorHandler) HandleStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleLiveStats upgrades to a websocket subscribed to live stats
func (h *VisitorHandler) HandleLiveStats(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stats unavailable"})
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request, broadcast.ChannelLiveStats); err != nil {
		log.Warn().Err(err).Msg("Live stats subscription failed")
	}
}
