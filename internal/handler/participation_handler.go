package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
	"github.com/noah-isme/feste-api/pkg/response"
)

type participationService interface {
	Request(ctx context.Context, userID, eventID string, req dto.CreateParticipationRequest) (*models.Participation, error)
	ListMine(ctx context.Context, userID string) ([]models.ParticipationDetail, error)
	ListByEvent(ctx context.Context, principal *models.Principal, eventID string) ([]models.ParticipationDetail, error)
	Review(ctx context.Context, principal *models.Principal, id string, req dto.ReviewParticipationRequest, meta models.RequestMeta) (*models.Participation, error)
}

// ParticipationHandler serves join requests and their review.
type ParticipationHandler struct {
	service participationService
}

// NewParticipationHandler constructs a ParticipationHandler.
func NewParticipationHandler(svc participationService) *ParticipationHandler {
	return &ParticipationHandler{service: svc}
}

// Request godoc
// @Summary Ask to join a festa
// @Tags Participations
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.CreateParticipationRequest false "Optional note"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /events/{id}/participations [post]
func (h *ParticipationHandler) Request(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateParticipationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid participation payload"))
			return
		}
	}
	p, err := h.service.Request(c.Request.Context(), claims.Subject, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// ListMine godoc
// @Summary List my participation requests
// @Tags Participations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/participations [get]
func (h *ParticipationHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.ListMine(c.Request.Context(), claims.Subject)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ListByEvent godoc
// @Summary List requests for a festa
// @Tags Admin Participations
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/events/{id}/participations [get]
func (h *ParticipationHandler) ListByEvent(c *gin.Context) {
	items, err := h.service.ListByEvent(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Review godoc
// @Summary Confirm or reject a request
// @Tags Admin Participations
// @Accept json
// @Produce json
// @Param id path string true "Participation ID"
// @Param payload body dto.ReviewParticipationRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/participations/{id} [patch]
func (h *ParticipationHandler) Review(c *gin.Context) {
	var req dto.ReviewParticipationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid review payload"))
		return
	}
	p, err := h.service.Review(c.Request.Context(), principalFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, p, nil)
}
