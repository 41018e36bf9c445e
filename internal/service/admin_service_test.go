package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

func boolPtr(v bool) *bool { return &v }

func newAdminFixture(policy PrivilegePolicy) (*AdminService, *fakeIdentityStore) {
	store := newFakeIdentityStore(
		&models.Identity{
			ID:           "user-42",
			Email:        "mario@example.com",
			UserMetadata: models.Attributes{"first_name": "Mario"},
		},
		&models.Identity{ID: "user-43", Email: "luigi@example.com"},
	)
	return NewAdminService(store, policy, nil, nil, nil, 0), store
}

func TestSetApprovalFlagMergesAttribute(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	ctx := context.Background()

	updated, err := svc.SetApprovalFlag(ctx, adminPrincipal(), dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(true)}, models.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, updated.ApprovedForParty())
	assert.Equal(t, models.Attributes{"first_name": "Mario", models.AttrApprovedForParty: true}, updated.UserMetadata)

	users, pagination, err := svc.ListUsers(ctx, adminPrincipal(), dto.ListUsersQuery{})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, "user-42", users[0].ID)
	assert.True(t, users[0].ApprovedForParty())
	assert.Equal(t, "Mario", users[0].UserMetadata["first_name"])

	require.Len(t, store.auditLogs, 1)
	entry := store.auditLogs[0]
	assert.Equal(t, models.AuditActionApprovalChange, entry.Action)
	assert.Equal(t, adminPrincipal().ID, *entry.ActorID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	var newValues map[string]bool
	require.NoError(t, json.Unmarshal(entry.NewValues, &newValues))
	assert.True(t, newValues[models.AttrApprovedForParty])
}

func TestSetApprovalFlagRevokeKeepsOtherAttributes(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	ctx := context.Background()

	_, err := svc.SetApprovalFlag(ctx, adminPrincipal(), dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(true)}, models.RequestMeta{})
	require.NoError(t, err)
	updated, err := svc.SetApprovalFlag(ctx, adminPrincipal(), dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(false)}, models.RequestMeta{})
	require.NoError(t, err)

	assert.False(t, updated.ApprovedForParty())
	assert.Equal(t, "Mario", store.get("user-42").UserMetadata["first_name"])
	assert.Equal(t, false, store.get("user-42").UserMetadata[models.AttrApprovedForParty])
}

func TestSetApprovalFlagIdempotent(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	ctx := context.Background()
	req := dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(true)}

	first, err := svc.SetApprovalFlag(ctx, adminPrincipal(), req, models.RequestMeta{})
	require.NoError(t, err)
	second, err := svc.SetApprovalFlag(ctx, adminPrincipal(), req, models.RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, first.UserMetadata, second.UserMetadata)
	assert.Equal(t, first.AppMetadata, second.AppMetadata)
	assert.Equal(t, 2, store.merges)
}

func TestSetApprovalFlagRejectsNonAdmin(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	before := store.get("user-42")

	_, err := svc.SetApprovalFlag(context.Background(), memberPrincipal(), dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(true)}, models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.Equal(t, before.UserMetadata, store.get("user-42").UserMetadata)
	assert.Zero(t, store.merges)
	assert.Empty(t, store.auditLogs)

	_, err = svc.SetApprovalFlag(context.Background(), nil, dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(true)}, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestSetApprovalFlagValidation(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})

	cases := []dto.SetApprovalRequest{
		{UserID: "user-42"},
		{UserID: "   ", IsApproved: boolPtr(true)},
	}
	for _, req := range cases {
		_, err := svc.SetApprovalFlag(context.Background(), adminPrincipal(), req, models.RequestMeta{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	}
	assert.Zero(t, store.merges)
}

func TestSetApprovalFlagUnknownUser(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})

	_, err := svc.SetApprovalFlag(context.Background(), adminPrincipal(), dto.SetApprovalRequest{UserID: "user-404", IsApproved: boolPtr(true)}, models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Zero(t, store.merges)
}

func TestSetApprovalFlagStoreFailure(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	store.mergeErr = errors.New("write timeout")

	_, err := svc.SetApprovalFlag(context.Background(), adminPrincipal(), dto.SetApprovalRequest{UserID: "user-42", IsApproved: boolPtr(true)}, models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUpstreamUnavailable))
	assert.Empty(t, store.auditLogs)
}

func TestSetAdminPrivilegeOverwritesFlag(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	ctx := context.Background()

	updated, err := svc.SetAdminPrivilege(ctx, adminPrincipal(), dto.SetRoleRequest{UserID: "user-43", IsSuperAdmin: boolPtr(true)}, models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, updated.IsSuperAdmin())

	updated, err = svc.SetAdminPrivilege(ctx, adminPrincipal(), dto.SetRoleRequest{UserID: "user-43", IsSuperAdmin: boolPtr(false)}, models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, updated.IsSuperAdmin())
	assert.False(t, store.get("user-43").IsSuperAdmin())
	assert.Empty(t, store.get("user-43").UserMetadata)
}

func TestSetAdminPrivilegeRefusedUnderAllowList(t *testing.T) {
	svc, store := newAdminFixture(NewAllowListPolicy([]string{"admin@example.com"}))

	_, err := svc.SetAdminPrivilege(context.Background(), adminPrincipal(), dto.SetRoleRequest{UserID: "user-43", IsSuperAdmin: boolPtr(true)}, models.RequestMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPrivilegeManagedExternally))
	assert.Equal(t, 409, appErrors.FromError(err).Status)
	assert.False(t, store.get("user-43").IsSuperAdmin())
}

func TestListUsersClampsPageSize(t *testing.T) {
	svc, _ := newAdminFixture(FlagPolicy{})

	_, pagination, err := svc.ListUsers(context.Background(), adminPrincipal(), dto.ListUsersQuery{Page: 0, PageSize: 5000})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 100, pagination.PageSize)

	_, _, err = svc.ListUsers(context.Background(), memberPrincipal(), dto.ListUsersQuery{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestListUsersFiltersBySearchAndApproval(t *testing.T) {
	svc, store := newAdminFixture(FlagPolicy{})
	store.identities["user-43"].UserMetadata = models.Attributes{models.AttrApprovedForParty: true}
	ctx := context.Background()

	users, pagination, err := svc.ListUsers(ctx, adminPrincipal(), dto.ListUsersQuery{Search: "  MARIO "})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-42", users[0].ID)
	assert.Equal(t, 1, pagination.TotalCount)

	users, _, err = svc.ListUsers(ctx, adminPrincipal(), dto.ListUsersQuery{Approved: "approved"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-43", users[0].ID)

	users, _, err = svc.ListUsers(ctx, adminPrincipal(), dto.ListUsersQuery{Approved: "not_approved"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user-42", users[0].ID)

	users, _, err = svc.ListUsers(ctx, adminPrincipal(), dto.ListUsersQuery{Approved: "all"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_, _, err = svc.ListUsers(ctx, adminPrincipal(), dto.ListUsersQuery{Approved: "maybe"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
