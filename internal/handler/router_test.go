package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/middleware"
	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/service"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
	"github.com/noah-isme/feste-api/pkg/logger"
)

const (
	adminID  = "11111111-1111-1111-1111-111111111111"
	memberID = "22222222-2222-2222-2222-222222222222"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      string                 `json:"error"`
	Code       string                 `json:"code"`
	Pagination map[string]interface{} `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

type stubSessions map[string]string

func (s stubSessions) ValidateToken(token string) (*models.SessionClaims, error) {
	subject, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	claims := &models.SessionClaims{}
	claims.Subject = subject
	return claims, nil
}

type stubIdentities map[string]*models.Identity

func (s stubIdentities) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	if identity, ok := s[id]; ok {
		return identity, nil
	}
	return nil, sql.ErrNoRows
}

type fakeAdminSrv struct {
	approvals []dto.SetApprovalRequest
	roles     []dto.SetRoleRequest
	principal *models.Principal
	err       error
}

func (f *fakeAdminSrv) ListUsers(ctx context.Context, principal *models.Principal, query dto.ListUsersQuery) ([]models.Identity, *models.Pagination, error) {
	f.principal = principal
	return []models.Identity{{ID: "user-42", Email: "mario@example.com"}}, &models.Pagination{Page: 1, PageSize: 100, TotalCount: 1}, nil
}

func (f *fakeAdminSrv) SetApprovalFlag(ctx context.Context, principal *models.Principal, req dto.SetApprovalRequest, meta models.RequestMeta) (*models.Identity, error) {
	f.principal = principal
	if f.err != nil {
		return nil, f.err
	}
	f.approvals = append(f.approvals, req)
	return &models.Identity{ID: req.UserID, UserMetadata: models.Attributes{models.AttrApprovedForParty: *req.IsApproved}}, nil
}

func (f *fakeAdminSrv) SetAdminPrivilege(ctx context.Context, principal *models.Principal, req dto.SetRoleRequest, meta models.RequestMeta) (*models.Identity, error) {
	f.principal = principal
	if f.err != nil {
		return nil, f.err
	}
	f.roles = append(f.roles, req)
	return &models.Identity{ID: req.UserID}, nil
}

type fakeEventSrv struct {
	err     error
	created int
}

func (f *fakeEventSrv) List(ctx context.Context, query dto.EventListQuery) ([]models.Event, *models.Pagination, error) {
	return []models.Event{{ID: "festa-1", Titolo: "Sagra", Stato: models.EventStatusPlanned}}, &models.Pagination{Page: 1, PageSize: 1, TotalCount: 1}, f.err
}

func (f *fakeEventSrv) Get(ctx context.Context, id string) (*models.Event, error) {
	if id != "festa-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return &models.Event{ID: id}, nil
}

func (f *fakeEventSrv) Create(ctx context.Context, principal *models.Principal, req dto.CreateEventRequest, meta models.RequestMeta) (*models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	return &models.Event{ID: "festa-2", Titolo: req.Titolo, Stato: models.EventStatusPlanned}, nil
}

func (f *fakeEventSrv) Update(ctx context.Context, principal *models.Principal, id string, req dto.UpdateEventRequest, meta models.RequestMeta) (*models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Event{ID: id}, nil
}

func (f *fakeEventSrv) Delete(ctx context.Context, principal *models.Principal, id string, meta models.RequestMeta) error {
	return f.err
}

type fakeExporter struct{}

func (fakeExporter) ExportEvents(ctx context.Context, principal *models.Principal, format string) (*service.ExportFile, error) {
	return &service.ExportFile{Filename: "feste-20260615.csv", ContentType: "text/csv; charset=utf-8", Content: []byte("titolo\nSagra\n")}, nil
}

type fakeParticipationSrv struct {
	requestedBy string
}

func (f *fakeParticipationSrv) Request(ctx context.Context, userID, eventID string, req dto.CreateParticipationRequest) (*models.Participation, error) {
	f.requestedBy = userID
	return &models.Participation{ID: "p-1", FestaID: eventID, UserID: userID, Stato: models.ParticipationPending}, nil
}

func (f *fakeParticipationSrv) ListMine(ctx context.Context, userID string) ([]models.ParticipationDetail, error) {
	return nil, nil
}

func (f *fakeParticipationSrv) ListByEvent(ctx context.Context, principal *models.Principal, eventID string) ([]models.ParticipationDetail, error) {
	return nil, nil
}

func (f *fakeParticipationSrv) Review(ctx context.Context, principal *models.Principal, id string, req dto.ReviewParticipationRequest, meta models.RequestMeta) (*models.Participation, error) {
	return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "participation cannot move from \"confermato\" to \"rifiutato\"")
}

type fakeNotificationSrv struct{}

func (fakeNotificationSrv) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	return []models.Notification{}, nil
}

func (fakeNotificationSrv) MarkRead(ctx context.Context, userID, id string) error {
	return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
}

type fakeDashboardSrv struct{}

func (fakeDashboardSrv) Stats(ctx context.Context, principal *models.Principal) (*models.DashboardStats, bool, error) {
	return &models.DashboardStats{TotalEvents: 3}, true, nil
}

type fakeAuthSrv struct{}

func (fakeAuthSrv) Register(ctx context.Context, req models.RegisterRequest) (*models.LoginResponse, error) {
	return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
}

func (fakeAuthSrv) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return &models.LoginResponse{AccessToken: "member-token", RefreshToken: "r", ExpiresIn: 900}, nil
}

func (fakeAuthSrv) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return nil, appErrors.ErrUnauthorized
}

func (fakeAuthSrv) Logout(ctx context.Context, identityID string, req models.LogoutRequest) error {
	return nil
}

func (fakeAuthSrv) Me(ctx context.Context, identityID string) (*models.IdentityInfo, error) {
	return &models.IdentityInfo{ID: identityID}, nil
}

type testServer struct {
	router         *gin.Engine
	actor          *string
	admin          *fakeAdminSrv
	events         *fakeEventSrv
	participations *fakeParticipationSrv
}

func newTestServer() testServer {
	gin.SetMode(gin.TestMode)
	sessions := stubSessions{"admin-token": adminID, "member-token": memberID}
	identities := stubIdentities{
		adminID:  {ID: adminID, Email: "admin@example.com", AppMetadata: models.Attributes{models.AttrIsSuperAdmin: true}},
		memberID: {ID: memberID, Email: "member@example.com"},
	}
	guard := service.NewAccessGuard(sessions, identities, service.FlagPolicy{}, nil, nil)

	ts := testServer{
		router:         gin.New(),
		admin:          &fakeAdminSrv{},
		events:         &fakeEventSrv{},
		participations: &fakeParticipationSrv{},
		actor:          new(string),
	}
	ts.router.Use(func(c *gin.Context) {
		c.Next()
		*ts.actor = c.GetString(logger.ActorKey)
	})
	ts.router.Use(middleware.WithResponseMeta())
	Routes{
		Auth:            NewAuthHandler(fakeAuthSrv{}, false),
		Admin:           NewAdminHandler(guard, ts.admin),
		Events:          NewEventHandler(ts.events, fakeExporter{}),
		Participations:  NewParticipationHandler(ts.participations),
		Notifications:   NewNotificationHandler(fakeNotificationSrv{}),
		Dashboard:       NewDashboardHandler(fakeDashboardSrv{}),
		Session:         middleware.Session(sessions),
		OptionalSession: middleware.OptionalSession(sessions),
		RequireAdmin:    middleware.RequireAdmin(guard),
	}.Register(ts.router.Group("/api/v1"))
	return ts
}

func (ts testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, responseEnvelope) {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestApprovalRequiresAdmin(t *testing.T) {
	ts := newTestServer()
	payload := map[string]interface{}{"userId": "user-42", "isApproved": true}

	rec, env := ts.do(http.MethodPost, "/api/v1/admin/users/approval", "member-token", payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrForbidden.Code, env.Code)
	assert.Equal(t, "/", env.Meta["redirect"])
	assert.Empty(t, ts.admin.approvals)

	rec, env = ts.do(http.MethodPost, "/api/v1/admin/users/approval", "", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/auth/login?next=%2Fapi%2Fv1%2Fadmin%2Fusers%2Fapproval", env.Meta["redirect"])
	assert.Empty(t, ts.admin.approvals)

	rec, _ = ts.do(http.MethodPost, "/api/v1/admin/users/approval", "admin-token", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.admin.approvals, 1)
	assert.True(t, *ts.admin.approvals[0].IsApproved)
	assert.Equal(t, adminID, ts.admin.principal.ID)
	assert.True(t, ts.admin.principal.IsAdmin)
}

func TestRoleErrorsMapToStatus(t *testing.T) {
	ts := newTestServer()
	ts.admin.err = appErrors.ErrPrivilegeManagedExternally

	rec, env := ts.do(http.MethodPost, "/api/v1/admin/users/role", "admin-token", map[string]interface{}{"userId": "user-42", "isSuperAdmin": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PRIVILEGE_MANAGED_EXTERNALLY", env.Code)

	ts.admin.err = appErrors.Clone(appErrors.ErrNotFound, "user not found")
	rec, _ = ts.do(http.MethodPost, "/api/v1/admin/users/role", "admin-token", map[string]interface{}{"userId": "user-404", "isSuperAdmin": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/admin/users/role", "admin-token", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Code)
}

func TestListUsersReturnsPagination(t *testing.T) {
	ts := newTestServer()

	rec, env := ts.do(http.MethodGet, "/api/v1/admin/users?page=1&page_size=100", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), env.Pagination["total_count"])
	assert.Contains(t, string(env.Data), "user-42")
}

func TestAdminAccessEndpoint(t *testing.T) {
	ts := newTestServer()

	rec, env := ts.do(http.MethodGet, "/api/v1/admin/access?next=/admin/feste", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/auth/login?next=%2Fadmin%2Ffeste", env.Meta["redirect"])

	rec, env = ts.do(http.MethodGet, "/api/v1/admin/access", "member-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "/", env.Meta["redirect"])

	rec, env = ts.do(http.MethodGet, "/api/v1/admin/access", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var decision models.AccessDecision
	require.NoError(t, json.Unmarshal(env.Data, &decision))
	assert.True(t, decision.Allowed)
	assert.Equal(t, "admin@example.com", decision.Email)
}

func TestEventRoutes(t *testing.T) {
	ts := newTestServer()

	rec, env := ts.do(http.MethodGet, "/api/v1/events?tempo=futuri", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "Sagra")

	rec, _ = ts.do(http.MethodGet, "/api/v1/events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(http.MethodPost, "/api/v1/admin/events", "member-token", map[string]string{"titolo": "Sagra"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, ts.events.created)

	rec, _ = ts.do(http.MethodPost, "/api/v1/admin/events", "admin-token", map[string]string{"titolo": "Sagra"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, ts.events.created)

	ts.events.err = appErrors.Clone(appErrors.ErrInvalidTransition, "event cannot move from \"conclusa\" to \"annullata\"")
	rec, env = ts.do(http.MethodPut, "/api/v1/admin/events/festa-1", "admin-token", map[string]string{"stato": "annullata"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	ts.events.err = appErrors.Clone(appErrors.ErrNotFound, "event not found")
	rec, _ = ts.do(http.MethodDelete, "/api/v1/admin/events/festa-9", "admin-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.events.err = nil
	rec, _ = ts.do(http.MethodPatch, "/api/v1/admin/events/festa-1", "admin-token", map[string]string{"titolo": "Sagra d'estate"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(http.MethodDelete, "/api/v1/admin/events/festa-1", "admin-token", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminEventReadsRequireAdmin(t *testing.T) {
	ts := newTestServer()

	rec, env := ts.do(http.MethodGet, "/api/v1/admin/events", "admin-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "Sagra")

	rec, _ = ts.do(http.MethodGet, "/api/v1/admin/events/festa-1", "admin-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/v1/admin/events/festa-1", "member-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/v1/admin/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExportRoute(t *testing.T) {
	ts := newTestServer()

	rec, _ := ts.do(http.MethodGet, "/api/v1/admin/events/export?format=csv", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="feste-20260615.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "titolo\nSagra\n", rec.Body.String())
}

func TestParticipationRoutes(t *testing.T) {
	ts := newTestServer()

	rec, _ := ts.do(http.MethodPost, "/api/v1/events/festa-1/participations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(http.MethodPost, "/api/v1/events/festa-1/participations", "member-token", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, memberID, ts.participations.requestedBy)

	rec, env := ts.do(http.MethodPatch, "/api/v1/admin/participations/p-1", "admin-token", map[string]string{"stato": "rifiutato"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)
}

func TestDashboardRouteReportsCacheHit(t *testing.T) {
	ts := newTestServer()

	rec, env := ts.do(http.MethodGet, "/api/v1/admin/dashboard", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, env.Meta["cache_hit"])
}

func TestAuthRoutes(t *testing.T) {
	ts := newTestServer()

	rec, _ := ts.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "member@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec, _ = ts.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "member@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env := ts.do(http.MethodGet, "/api/v1/auth/me", "member-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), memberID)

	rec, _ = ts.do(http.MethodPost, "/api/v1/me/notifications/n-1/read", "member-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicEventsAttachOptionalSession(t *testing.T) {
	ts := newTestServer()

	rec, _ := ts.do(http.MethodGet, "/api/v1/events", "member-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, memberID, *ts.actor)

	rec, _ = ts.do(http.MethodGet, "/api/v1/events/festa-1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *ts.actor)

	rec, _ = ts.do(http.MethodGet, "/api/v1/events", "expired-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *ts.actor)
}
