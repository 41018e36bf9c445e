package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/middleware"
	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/pkg/logger"
	"github.com/noah-isme/feste-api/pkg/response"
)

type accessChecker interface {
	Check(ctx context.Context, token, requestedPath string) (*models.AccessDecision, *models.Principal, error)
}

type adminService interface {
	ListUsers(ctx context.Context, principal *models.Principal, query dto.ListUsersQuery) ([]models.Identity, *models.Pagination, error)
	SetApprovalFlag(ctx context.Context, principal *models.Principal, req dto.SetApprovalRequest, meta models.RequestMeta) (*models.Identity, error)
	SetAdminPrivilege(ctx context.Context, principal *models.Principal, req dto.SetRoleRequest, meta models.RequestMeta) (*models.Identity, error)
}

// AdminHandler exposes the admin area entry check and user management.
type AdminHandler struct {
	guard   accessChecker
	service adminService
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(guard accessChecker, svc adminService) *AdminHandler {
	return &AdminHandler{guard: guard, service: svc}
}

// Access godoc
// @Summary Check admin area access
// @Description Evaluates the caller's session against the active privilege policy. Denials carry meta.redirect.
// @Tags Admin
// @Produce json
// @Param next query string false "Path the caller wants to reach"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/access [get]
func (h *AdminHandler) Access(c *gin.Context) {
	next := c.DefaultQuery("next", "/admin")
	token, err := middleware.TokenFromRequest(c)
	if err != nil {
		token = ""
	}

	decision, principal, err := h.guard.Check(c.Request.Context(), token, next)
	if err != nil {
		var meta map[string]interface{}
		if decision != nil && decision.Redirect != "" {
			meta = map[string]interface{}{"redirect": decision.Redirect}
		}
		response.Error(c, err, meta)
		return
	}
	c.Set(logger.ActorKey, principal.ID)
	response.JSON(c, http.StatusOK, decision, nil)
}

// ListUsers godoc
// @Summary List identities
// @Tags Admin
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var query dto.ListUsersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid paging parameters"))
		return
	}
	users, pagination, err := h.service.ListUsers(c.Request.Context(), principalFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// SetApproval godoc
// @Summary Approve or revoke party access
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.SetApprovalRequest true "Approval payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/approval [post]
func (h *AdminHandler) SetApproval(c *gin.Context) {
	var req dto.SetApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid approval payload"))
		return
	}
	identity, err := h.service.SetApprovalFlag(c.Request.Context(), principalFromContext(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, identity, nil)
}

// SetRole godoc
// @Summary Grant or revoke the admin privilege
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.SetRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/users/role [post]
func (h *AdminHandler) SetRole(c *gin.Context) {
	var req dto.SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid role payload"))
		return
	}
	identity, err := h.service.SetAdminPrivilege(c.Request.Context(), principalFromContext(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, identity, nil)
}
