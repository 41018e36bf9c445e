package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/feste-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var identityCols = []string{"id", "email", "password_hash", "app_metadata", "user_metadata", "last_sign_in_at", "created_at", "updated_at"}

func TestIdentityFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(identityCols).
		AddRow("u1", "mario@example.com", "hash", []byte(`{"is_super_admin":true}`), []byte(`{"nome":"Mario"}`), nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("Mario@Example.com").
		WillReturnRows(rows)

	identity, err := repo.FindByEmail(context.Background(), "Mario@Example.com")
	require.NoError(t, err)
	assert.True(t, identity.IsSuperAdmin())
	assert.Equal(t, "Mario", identity.UserMetadata.String(models.AttrNome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityListClampsPageSize(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities ORDER BY created_at DESC, id LIMIT 100 OFFSET 100")).
		WillReturnRows(sqlmock.NewRows(identityCols).AddRow("u1", "a@example.com", "hash", nil, nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM identities")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(101))

	items, total, err := repo.List(context.Background(), models.IdentityFilter{Page: 2, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 101, total)
	assert.NotNil(t, items[0].AppMetadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityListFiltersBySearchAndApproval(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	now := time.Now()
	where := "WHERE (LOWER(email) LIKE $1 OR LOWER(user_metadata->>'first_name') LIKE $1 OR LOWER(user_metadata->>'last_name') LIKE $1 OR LOWER(user_metadata->>'nome') LIKE $1 OR LOWER(user_metadata->>'cognome') LIKE $1) AND COALESCE(user_metadata->'approved_for_party' = 'true'::jsonb, FALSE) = $2"
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities " + where + " ORDER BY created_at DESC, id LIMIT 20 OFFSET 0")).
		WithArgs("%mario%", false).
		WillReturnRows(sqlmock.NewRows(identityCols).AddRow("u1", "mario@example.com", "hash", nil, []byte(`{"first_name":"Mario"}`), nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM identities " + where)).
		WithArgs("%mario%", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	approved := false
	items, total, err := repo.List(context.Background(), models.IdentityFilter{Search: " Mario ", Approved: &approved, Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityCountApproved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM identities WHERE COALESCE(user_metadata->'approved_for_party' = 'true'::jsonb, FALSE)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	total, err := repo.CountApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityMergeUserMetadata(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE identities SET user_metadata = COALESCE(user_metadata, '{}'::jsonb) || $2::jsonb, updated_at = $3 WHERE id = $1 RETURNING")).
		WithArgs("user-42", `{"approved_for_party":true}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(identityCols).
			AddRow("user-42", "mario@example.com", "hash", []byte(`{}`), []byte(`{"first_name":"Mario","approved_for_party":true}`), nil, now, now))

	identity, err := repo.MergeUserMetadata(context.Background(), "user-42", models.Attributes{models.AttrApprovedForParty: true})
	require.NoError(t, err)
	assert.True(t, identity.ApprovedForParty())
	assert.Equal(t, "Mario", identity.UserMetadata.String("first_name"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityMergeAppMetadataUnknownTarget(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE identities SET app_metadata = COALESCE(app_metadata, '{}'::jsonb) || $2::jsonb")).
		WithArgs("ghost", `{"is_super_admin":false}`, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.MergeAppMetadata(context.Background(), "ghost", models.Attributes{models.AttrIsSuperAdmin: false})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityCreateDuplicateEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectExec("INSERT INTO identities").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Identity{Email: "dup@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityCountSince(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	since := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM identities WHERE created_at >= $1")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	total, err := repo.Count(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{IdentityID: "u1", TokenHash: "hash", ExpiresAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
