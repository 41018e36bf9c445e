package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/service"
	"github.com/noah-isme/feste-api/pkg/response"
)

type eventService interface {
	List(ctx context.Context, query dto.EventListQuery) ([]models.Event, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Event, error)
	Create(ctx context.Context, principal *models.Principal, req dto.CreateEventRequest, meta models.RequestMeta) (*models.Event, error)
	Update(ctx context.Context, principal *models.Principal, id string, req dto.UpdateEventRequest, meta models.RequestMeta) (*models.Event, error)
	Delete(ctx context.Context, principal *models.Principal, id string, meta models.RequestMeta) error
}

type eventExporter interface {
	ExportEvents(ctx context.Context, principal *models.Principal, format string) (*service.ExportFile, error)
}

// EventHandler serves the public event listing and the admin event CRUD.
type EventHandler struct {
	service  eventService
	exporter eventExporter
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc eventService, exporter eventExporter) *EventHandler {
	return &EventHandler{service: svc, exporter: exporter}
}

// List godoc
// @Summary List feste
// @Description Upcoming events first (soonest first), then past events (most recent first)
// @Tags Events
// @Produce json
// @Param search query string false "Matches titolo, descrizione or location"
// @Param stato query string false "pianificata, in_corso, conclusa or annullata"
// @Param tempo query string false "tutti, futuri or passati"
// @Param data query string false "Day (YYYY-MM-DD) the event spans"
// @Param page query int false "Page"
// @Param page_size query int false "Page size (max 100); omit for all"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /events [get]
func (h *EventHandler) List(c *gin.Context) {
	var query dto.EventListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query parameters"))
		return
	}
	events, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// Get godoc
// @Summary Get a festa
// @Tags Events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /events/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Create godoc
// @Summary Create a festa
// @Tags Admin Events
// @Accept json
// @Produce json
// @Param payload body dto.CreateEventRequest true "Event payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/events [post]
func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid event payload"))
		return
	}
	event, err := h.service.Create(c.Request.Context(), principalFromContext(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Update godoc
// @Summary Update a festa
// @Description Partial update; a stato change must follow the event lifecycle
// @Tags Admin Events
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.UpdateEventRequest true "Event fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/events/{id} [put]
func (h *EventHandler) Update(c *gin.Context) {
	var req dto.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid event payload"))
		return
	}
	event, err := h.service.Update(c.Request.Context(), principalFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Delete godoc
// @Summary Delete a festa
// @Tags Admin Events
// @Param id path string true "Event ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/events/{id} [delete]
func (h *EventHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), principalFromContext(c), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export feste
// @Tags Admin Events
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/events/export [get]
func (h *EventHandler) Export(c *gin.Context) {
	file, err := h.exporter.ExportEvents(c.Request.Context(), principalFromContext(c), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+file.Filename+"\"")
	c.Header("Content-Length", strconv.Itoa(len(file.Content)))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
