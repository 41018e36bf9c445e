package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/feste-api/internal/models"
)

const participationColumns = `p.id, p.festa_id, p.user_id, p.stato, p.note, p.created_at, p.updated_at`

// ParticipationRepository provides database access for participation requests.
type ParticipationRepository struct {
	db *sqlx.DB
}

// NewParticipationRepository creates a new instance of ParticipationRepository.
func NewParticipationRepository(db *sqlx.DB) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

// Create inserts a participation request. Duplicate requests for the same
// event and identity are accepted.
func (r *ParticipationRepository) Create(ctx context.Context, p *models.Participation) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Stato == "" {
		p.Stato = models.ParticipationPending
	}

	const query = `INSERT INTO partecipazioni (id, festa_id, user_id, stato, note, created_at, updated_at) VALUES (:id, :festa_id, :user_id, :stato, :note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create participation: %w", err)
	}
	return nil
}

// FindByID returns a participation by identifier.
func (r *ParticipationRepository) FindByID(ctx context.Context, id string) (*models.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM partecipazioni p WHERE p.id = $1 LIMIT 1`
	var p models.Participation
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		err = lookupErr(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find participation: %w", err)
	}
	return &p, nil
}

// ListByEvent returns every request for an event with the requester email.
func (r *ParticipationRepository) ListByEvent(ctx context.Context, eventID string) ([]models.ParticipationDetail, error) {
	query := `SELECT ` + participationColumns + `, i.email AS user_email, f.titolo AS event_titolo, f.data_inizio AS event_data_inizio
		FROM partecipazioni p
		JOIN identities i ON i.id = p.user_id
		JOIN feste f ON f.id = p.festa_id
		WHERE p.festa_id = $1
		ORDER BY p.created_at ASC`
	items := make([]models.ParticipationDetail, 0)
	if err := r.db.SelectContext(ctx, &items, query, eventID); err != nil {
		return nil, fmt.Errorf("list participations by event: %w", err)
	}
	return items, nil
}

// ListByUser returns every request made by an identity, newest first.
func (r *ParticipationRepository) ListByUser(ctx context.Context, userID string) ([]models.ParticipationDetail, error) {
	query := `SELECT ` + participationColumns + `, i.email AS user_email, f.titolo AS event_titolo, f.data_inizio AS event_data_inizio
		FROM partecipazioni p
		JOIN identities i ON i.id = p.user_id
		JOIN feste f ON f.id = p.festa_id
		WHERE p.user_id = $1
		ORDER BY p.created_at DESC`
	items := make([]models.ParticipationDetail, 0)
	if err := r.db.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("list participations by user: %w", err)
	}
	return items, nil
}

const updateParticipationStatusQuery = `UPDATE partecipazioni p SET stato = $3, note = COALESCE($4, p.note), updated_at = $5 WHERE p.id = $1 AND p.stato = $2 RETURNING ` + participationColumns

// UpdateStatus moves a request from one status to another. Matching on the
// current status guards against a concurrent review; sql.ErrNoRows means the
// row is gone or no longer in the expected status.
func (r *ParticipationRepository) UpdateStatus(ctx context.Context, id string, from, to models.ParticipationStatus, note *string) (*models.Participation, error) {
	var p models.Participation
	if err := r.db.GetContext(ctx, &p, updateParticipationStatusQuery, id, from, to, note, time.Now().UTC()); err != nil {
		err = lookupErr(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update participation status: %w", err)
	}
	return &p, nil
}

// Confirm moves a request from the given status to confermato while holding
// the event row lock, so confirmations for one event are counted one at a
// time. A full event yields ErrCapacityReached; sql.ErrNoRows means the
// request is gone or no longer in the expected status.
func (r *ParticipationRepository) Confirm(ctx context.Context, id string, from models.ParticipationStatus, note *string) (confirmed *models.Participation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin confirm transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var event struct {
		ID              string `db:"id"`
		MaxPartecipanti int    `db:"max_partecipanti"`
	}
	const lockQuery = `SELECT f.id, f.max_partecipanti FROM feste f JOIN partecipazioni p ON p.festa_id = f.id WHERE p.id = $1 FOR UPDATE OF f`
	if err = tx.GetContext(ctx, &event, lockQuery, id); err != nil {
		if err = lookupErr(err); errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock event for confirmation: %w", err)
	}

	if event.MaxPartecipanti > 0 {
		var taken int
		const countQuery = `SELECT COUNT(*) FROM partecipazioni WHERE festa_id = $1 AND stato = $2`
		if err = tx.GetContext(ctx, &taken, countQuery, event.ID, models.ParticipationConfirmed); err != nil {
			return nil, fmt.Errorf("count confirmed participations: %w", err)
		}
		if taken >= event.MaxPartecipanti {
			err = ErrCapacityReached
			return nil, err
		}
	}

	var p models.Participation
	if err = tx.GetContext(ctx, &p, updateParticipationStatusQuery, id, from, models.ParticipationConfirmed, note, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("confirm participation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit confirmation: %w", err)
	}
	return &p, nil
}

// CountConfirmedByEvent returns confirmed requests per event id. Events
// without confirmations are absent from the map.
func (r *ParticipationRepository) CountConfirmedByEvent(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		FestaID string `db:"festa_id"`
		Total   int    `db:"total"`
	}
	const query = `SELECT festa_id, COUNT(*) AS total FROM partecipazioni WHERE stato = $1 GROUP BY festa_id`
	if err := r.db.SelectContext(ctx, &rows, query, models.ParticipationConfirmed); err != nil {
		return nil, fmt.Errorf("count confirmed participations by event: %w", err)
	}
	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.FestaID] = row.Total
	}
	return result, nil
}

// CountByStatus returns request totals grouped by status. Statuses without
// rows are reported as zero.
func (r *ParticipationRepository) CountByStatus(ctx context.Context) (map[models.ParticipationStatus]int, error) {
	var rows []struct {
		Stato models.ParticipationStatus `db:"stato"`
		Total int                        `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT stato, COUNT(*) AS total FROM partecipazioni GROUP BY stato`); err != nil {
		return nil, fmt.Errorf("count participations by status: %w", err)
	}
	result := make(map[models.ParticipationStatus]int, len(models.ParticipationStatuses))
	for _, status := range models.ParticipationStatuses {
		result[status] = 0
	}
	for _, row := range rows {
		result[row.Stato] = row.Total
	}
	return result, nil
}
