package handlers

import (
	"net/http"
	"strconv"

	"example.com/backstage/contacts/internal/services"
	"example.com/backstage/contacts/internal/tracing"

	"github.com/gin-gonic/gin"
)

// ContactHandler serves the contact submission and admin routes
type ContactHandler struct {
	service *services.ContactService
	tracer  tracing.Tracer
}

// NewContactHandler creates a new contact handler
func NewContactHandler(service *services.ContactService, tracer tracing.Tracer) *ContactHandler {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &ContactHandler{service: service, tracer: tracer}
}

// RegisterRoutes mounts the public submit route and the admin routes
func (h *ContactHandler) RegisterRoutes(public, admin *gin.RouterGroup) {
	public.POST("/contacts", h.HandleSubmit)

	admin.GET("/contacts", h.HandleList)
	admin.GET("/contacts/analytics", h.HandleAnalytics)
	admin.GET("/contacts/search", h.HandleSearch)
	admin.GET("/contacts/:id", h.HandleGet)
	admin.PUT("/contacts/:id/respond", h.HandleRespond)
}

// HandleSubmit accepts a contact form
func (h *ContactHandler) HandleSubmit(c *gin.Context) {
	var in services.SubmitContactInput
	if !bindJSON(c, &in) {
		return
	}

	resp, err := h.service.Submit(c.Request.Context(), in, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.tracer.RecordError(c.Request.Context(), err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleList returns a page of contacts
func (h *ContactHandler) HandleList(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "0"))

	result, err := h.service.ListContacts(c.Request.Context(), services.ListContactsInput{
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Page:     page,
		Size:     size,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleGet returns one contact
func (h *ContactHandler) HandleGet(c *gin.Context) {
	contact, err := h.service.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// HandleAnalytics returns the contact analytics
func (h *ContactHandler) HandleAnalytics(c *gin.Context) {
	analytics, err := h.service.Analytics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// HandleSearch runs a full-text contact search
func (h *ContactHandler) HandleSearch(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "0"))
	docs, err := h.service.SearchContacts(c.Request.Context(), c.Query("q"), size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": docs, "count": len(docs)})
}

// HandleRespond marks a contact as responded
func (h *ContactHandler) HandleRespond(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.MarkAsResponded(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contactId": id, "status": "RESPONDED"})
}
