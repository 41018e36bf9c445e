package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/feste-api/internal/models"
)

const identityColumns = `id, email, password_hash, app_metadata, user_metadata, last_sign_in_at, created_at, updated_at`

// IdentityRepository provides database access for identities, their refresh
// tokens and the audit trail.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindByEmail returns an identity by email address, case-insensitively.
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by email: %w", err)
	}
	return &identity, nil
}

// FindByID returns an identity by identifier.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1 LIMIT 1`
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, id); err != nil {
		err = lookupErr(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return &identity, nil
}

const approvedExpr = `COALESCE(user_metadata->'approved_for_party' = 'true'::jsonb, FALSE)`

// List returns one page of identities matching the filter, newest first, with
// the total number of matches.
func (r *IdentityRepository) List(ctx context.Context, filter models.IdentityFilter) ([]models.Identity, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	var conditions []string
	var args []interface{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%[1]d OR LOWER(user_metadata->>'first_name') LIKE $%[1]d OR LOWER(user_metadata->>'last_name') LIKE $%[1]d OR LOWER(user_metadata->>'nome') LIKE $%[1]d OR LOWER(user_metadata->>'cognome') LIKE $%[1]d)", n))
	}
	if filter.Approved != nil {
		args = append(args, *filter.Approved)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", approvedExpr, len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	listQuery := fmt.Sprintf("SELECT %s FROM identities%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", identityColumns, where, pageSize, offset)
	identities := make([]models.Identity, 0)
	if err := r.db.SelectContext(ctx, &identities, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list identities: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM identities"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count identities: %w", err)
	}

	return identities, total, nil
}

// Create inserts a new identity. A duplicate email surfaces as ErrDuplicate.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	if identity.AppMetadata == nil {
		identity.AppMetadata = models.Attributes{}
	}
	if identity.UserMetadata == nil {
		identity.UserMetadata = models.Attributes{}
	}

	const query = `INSERT INTO identities (id, email, password_hash, app_metadata, user_metadata, created_at, updated_at) VALUES (:id, :email, :password_hash, :app_metadata, :user_metadata, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, identity); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// MergeUserMetadata merges patch into user_metadata in one statement, keeping
// every key the patch does not name. Returns sql.ErrNoRows when id is unknown.
func (r *IdentityRepository) MergeUserMetadata(ctx context.Context, id string, patch models.Attributes) (*models.Identity, error) {
	return r.mergeMetadata(ctx, "user_metadata", id, patch)
}

// MergeAppMetadata merges patch into app_metadata in one statement.
func (r *IdentityRepository) MergeAppMetadata(ctx context.Context, id string, patch models.Attributes) (*models.Identity, error) {
	return r.mergeMetadata(ctx, "app_metadata", id, patch)
}

func (r *IdentityRepository) mergeMetadata(ctx context.Context, column, id string, patch models.Attributes) (*models.Identity, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal %s patch: %w", column, err)
	}
	query := fmt.Sprintf(`UPDATE identities SET %[1]s = COALESCE(%[1]s, '{}'::jsonb) || $2::jsonb, updated_at = $3 WHERE id = $1 RETURNING %[2]s`, column, identityColumns)

	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, id, string(payload), time.Now().UTC()); err != nil {
		err = lookupErr(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("merge %s: %w", column, err)
	}
	return &identity, nil
}

// UpdateLastSignIn stamps last_sign_in_at.
func (r *IdentityRepository) UpdateLastSignIn(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE identities SET last_sign_in_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last sign in: %w", err)
	}
	return nil
}

// Count returns the number of identities, optionally only those created at or
// after since.
func (r *IdentityRepository) Count(ctx context.Context, since *time.Time) (int, error) {
	query := "SELECT COUNT(*) FROM identities"
	var args []interface{}
	if since != nil {
		query += " WHERE created_at >= $1"
		args = append(args, *since)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return total, nil
}

// CountApproved returns identities whose approved_for_party flag is true.
func (r *IdentityRepository) CountApproved(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM identities WHERE "+approvedExpr); err != nil {
		return 0, fmt.Errorf("count approved identities: %w", err)
	}
	return total, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *IdentityRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, identity_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :identity_id, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by its hash.
func (r *IdentityRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, identity_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *IdentityRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *IdentityRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, actor_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :actor_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
