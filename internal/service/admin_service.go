package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/pkg/config"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

const maxUsersPageSize = 100

type adminIdentityRepository interface {
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	List(ctx context.Context, filter models.IdentityFilter) ([]models.Identity, int, error)
	MergeUserMetadata(ctx context.Context, id string, patch models.Attributes) (*models.Identity, error)
	MergeAppMetadata(ctx context.Context, id string, patch models.Attributes) (*models.Identity, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AdminService applies admin mutations on identities.
type AdminService struct {
	repo            adminIdentityRepository
	policy          PrivilegePolicy
	validator       *validator.Validate
	metrics         *MetricsService
	logger          *zap.Logger
	defaultPageSize int
}

// NewAdminService constructs an AdminService.
func NewAdminService(repo adminIdentityRepository, policy PrivilegePolicy, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, defaultPageSize int) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = FlagPolicy{}
	}
	if defaultPageSize <= 0 || defaultPageSize > maxUsersPageSize {
		defaultPageSize = maxUsersPageSize
	}
	return &AdminService{repo: repo, policy: policy, validator: validate, metrics: metrics, logger: logger, defaultPageSize: defaultPageSize}
}

// ListUsers returns one bounded page of identities.
func (s *AdminService) ListUsers(ctx context.Context, principal *models.Principal, query dto.ListUsersQuery) ([]models.Identity, *models.Pagination, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, nil, err
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = s.defaultPageSize
	}
	if size > maxUsersPageSize {
		size = maxUsersPageSize
	}

	filter := models.IdentityFilter{Search: strings.TrimSpace(query.Search), Page: page, PageSize: size}
	switch strings.ToLower(strings.TrimSpace(query.Approved)) {
	case "", "all":
	case "approved":
		approved := true
		filter.Approved = &approved
	case "not_approved":
		approved := false
		filter.Approved = &approved
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "approved must be one of all, approved, not_approved")
	}

	start := time.Now()
	identities, total, err := s.repo.List(ctx, filter)
	s.metrics.ObserveDBQuery("users_list", time.Since(start))
	if err != nil {
		return nil, nil, appErrors.Upstream(err, "failed to list users")
	}
	return identities, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// SetApprovalFlag merges approved_for_party into the target's user attributes,
// leaving every other attribute untouched.
func (s *AdminService) SetApprovalFlag(ctx context.Context, principal *models.Principal, req dto.SetApprovalRequest, meta models.RequestMeta) (*models.Identity, error) {
	identity, err := s.setApprovalFlag(ctx, principal, req, meta)
	s.metrics.ObserveAdminAction("set_approval", err)
	return identity, err
}

func (s *AdminService) setApprovalFlag(ctx context.Context, principal *models.Principal, req dto.SetApprovalRequest, meta models.RequestMeta) (*models.Identity, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "userId and isApproved are required")
	}

	before, err := s.loadTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.MergeUserMetadata(ctx, req.UserID, models.Attributes{models.AttrApprovedForParty: *req.IsApproved})
	if err != nil {
		return nil, mapTargetErr(err, "failed to update approval")
	}

	s.audit(ctx, principal, models.AuditActionApprovalChange, updated.ID,
		map[string]interface{}{models.AttrApprovedForParty: before.ApprovedForParty()},
		map[string]interface{}{models.AttrApprovedForParty: updated.ApprovedForParty()}, meta)
	s.logger.Info("approval flag updated", zap.String("actor_id", principal.ID), zap.String("target_id", updated.ID), zap.Bool("approved", *req.IsApproved))
	return updated, nil
}

// SetAdminPrivilege overwrites is_super_admin on the target. It is refused
// when privilege comes from the configured allow-list.
func (s *AdminService) SetAdminPrivilege(ctx context.Context, principal *models.Principal, req dto.SetRoleRequest, meta models.RequestMeta) (*models.Identity, error) {
	identity, err := s.setAdminPrivilege(ctx, principal, req, meta)
	s.metrics.ObserveAdminAction("set_privilege", err)
	return identity, err
}

func (s *AdminService) setAdminPrivilege(ctx context.Context, principal *models.Principal, req dto.SetRoleRequest, meta models.RequestMeta) (*models.Identity, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "userId and isSuperAdmin are required")
	}
	if s.policy.Name() != config.PrivilegeSourceFlag {
		return nil, appErrors.ErrPrivilegeManagedExternally
	}

	before, err := s.loadTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.MergeAppMetadata(ctx, req.UserID, models.Attributes{models.AttrIsSuperAdmin: *req.IsSuperAdmin})
	if err != nil {
		return nil, mapTargetErr(err, "failed to update privilege")
	}

	s.audit(ctx, principal, models.AuditActionPrivilegeChange, updated.ID,
		map[string]interface{}{models.AttrIsSuperAdmin: before.IsSuperAdmin()},
		map[string]interface{}{models.AttrIsSuperAdmin: updated.IsSuperAdmin()}, meta)
	s.logger.Info("admin privilege updated", zap.String("actor_id", principal.ID), zap.String("target_id", updated.ID), zap.Bool("super_admin", *req.IsSuperAdmin))
	return updated, nil
}

func (s *AdminService) loadTarget(ctx context.Context, id string) (*models.Identity, error) {
	identity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapTargetErr(err, "failed to load user")
	}
	return identity, nil
}

func (s *AdminService) audit(ctx context.Context, principal *models.Principal, action, targetID string, oldValues, newValues map[string]interface{}, meta models.RequestMeta) {
	recordAudit(ctx, s.repo, s.logger, principal, action, "identity", targetID, oldValues, newValues, meta)
}

func mapTargetErr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return appErrors.Upstream(err, message)
}

// requireAdmin re-checks the privilege carried by the principal the guard
// admitted for this request.
func requireAdmin(principal *models.Principal) error {
	if principal == nil {
		return appErrors.ErrUnauthorized
	}
	if !principal.IsAdmin {
		return appErrors.ErrForbidden
	}
	return nil
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// recordAudit writes a best-effort audit row; failures are only logged.
func recordAudit(ctx context.Context, writer auditWriter, logger *zap.Logger, principal *models.Principal, action, resource, resourceID string, oldValues, newValues interface{}, meta models.RequestMeta) {
	if writer == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if principal != nil {
		actor := principal.ID
		entry.ActorID = &actor
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := writer.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
