package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/feste-api/internal/models"
)

const eventColumns = `id, titolo, descrizione, data_inizio, data_fine, location, max_partecipanti, stato, prezzo, immagine_url, creatore_id, tags, created_at, updated_at`

// EventRepository provides database access for feste.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new instance of EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// FindByID returns an event by identifier.
func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM feste WHERE id = $1 LIMIT 1`
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		err = lookupErr(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find event by id: %w", err)
	}
	return &event, nil
}

// List returns events matching the filter. Upcoming events come first in
// ascending start order, then past events most recent first. A non-positive
// PageSize returns every match.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(titolo) LIKE $%d OR LOWER(descrizione) LIKE $%d OR LOWER(location) LIKE $%d)", n, n, n))
	}
	if filter.Stato != nil {
		args = append(args, *filter.Stato)
		conditions = append(conditions, fmt.Sprintf("stato = $%d", len(args)))
	}
	switch filter.Time {
	case models.EventTimeUpcoming:
		args = append(args, now)
		conditions = append(conditions, fmt.Sprintf("data_inizio >= $%d", len(args)))
	case models.EventTimePast:
		args = append(args, now)
		conditions = append(conditions, fmt.Sprintf("data_inizio < $%d", len(args)))
	}
	if filter.Day != nil {
		args = append(args, filter.Day.Format("2006-01-02"))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("data_inizio::date <= $%d::date AND (data_fine IS NULL OR data_fine::date >= $%d::date)", n, n))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	listArgs := append(append([]interface{}{}, args...), now)
	nowArg := len(listArgs)
	listQuery := fmt.Sprintf("SELECT %s FROM feste%s ORDER BY (data_inizio < $%d), CASE WHEN data_inizio >= $%d THEN data_inizio END ASC, data_inizio DESC", eventColumns, where, nowArg, nowArg)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		listQuery += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, (page-1)*filter.PageSize)
	}

	events := make([]models.Event, 0)
	if err := r.db.SelectContext(ctx, &events, listQuery, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM feste"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	for i := range events {
		events[i].MarkPast(now)
	}
	return events, total, nil
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	if event.Tags == nil {
		event.Tags = []string{}
	}

	const query = `INSERT INTO feste (id, titolo, descrizione, data_inizio, data_fine, location, max_partecipanti, stato, prezzo, immagine_url, creatore_id, tags, created_at, updated_at) VALUES (:id, :titolo, :descrizione, :data_inizio, :data_fine, :location, :max_partecipanti, :stato, :prezzo, :immagine_url, :creatore_id, :tags, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Update writes the mutable columns of an event and reloads the stored row
// into event. stato is written only when it differs from previous, and then
// only if the row still holds previous; a row that moved on in the meantime
// yields ErrStaleStatus. Returns sql.ErrNoRows when the event no longer exists.
func (r *EventRepository) Update(ctx context.Context, event *models.Event, previous models.EventStatus) error {
	if event.Tags == nil {
		event.Tags = []string{}
	}
	args := []interface{}{
		event.Titolo, event.Descrizione, event.DataInizio, event.DataFine, event.Location,
		event.MaxPartecipanti, event.Prezzo, event.ImmagineURL, event.Tags, time.Now().UTC(),
	}
	set := `titolo = $1, descrizione = $2, data_inizio = $3, data_fine = $4, location = $5, max_partecipanti = $6, prezzo = $7, immagine_url = $8, tags = $9, updated_at = $10`

	transition := event.Stato != previous
	args = append(args, event.ID)
	where := fmt.Sprintf("id = $%d", len(args))
	if transition {
		args = append(args, event.Stato)
		set += fmt.Sprintf(", stato = $%d", len(args))
		args = append(args, previous)
		where += fmt.Sprintf(" AND stato = $%d", len(args))
	}

	query := `UPDATE feste SET ` + set + ` WHERE ` + where + ` RETURNING ` + eventColumns
	var stored models.Event
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		err = lookupErr(err)
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update event: %w", err)
		}
		if !transition {
			return err
		}
		return r.staleOrMissing(ctx, event.ID)
	}
	*event = stored
	return nil
}

func (r *EventRepository) staleOrMissing(ctx context.Context, id string) error {
	var current models.EventStatus
	if err := r.db.GetContext(ctx, &current, `SELECT stato FROM feste WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("reload event status: %w", err)
	}
	return fmt.Errorf("event %s is %s: %w", id, current, ErrStaleStatus)
}

// Delete hard-deletes an event. Returns sql.ErrNoRows when nothing matched.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feste WHERE id = $1`, id)
	if err != nil {
		if err = lookupErr(err); errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("delete event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Count returns the number of events.
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM feste"); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return total, nil
}

// CountUpcoming returns planned events starting after the given instant.
func (r *EventRepository) CountUpcoming(ctx context.Context, after time.Time) (int, error) {
	var total int
	const query = `SELECT COUNT(*) FROM feste WHERE data_inizio > $1 AND stato = $2`
	if err := r.db.GetContext(ctx, &total, query, after, models.EventStatusPlanned); err != nil {
		return 0, fmt.Errorf("count upcoming events: %w", err)
	}
	return total, nil
}

// CountByTime splits events into those starting before boundary and the rest.
func (r *EventRepository) CountByTime(ctx context.Context, boundary time.Time) (models.EventTimeSplit, error) {
	var split models.EventTimeSplit
	const query = `SELECT COUNT(*) FILTER (WHERE data_inizio < $1) AS past, COUNT(*) FILTER (WHERE data_inizio >= $1) AS future FROM feste`
	if err := r.db.GetContext(ctx, &split, query, boundary); err != nil {
		return models.EventTimeSplit{}, fmt.Errorf("count events by time: %w", err)
	}
	return split, nil
}

// CountByMonth returns events per start month (YYYY-MM), oldest first.
func (r *EventRepository) CountByMonth(ctx context.Context) ([]models.CountBucket, error) {
	buckets := make([]models.CountBucket, 0)
	const query = `SELECT to_char(data_inizio AT TIME ZONE 'UTC', 'YYYY-MM') AS key, COUNT(*) AS count FROM feste GROUP BY 1 ORDER BY 1`
	if err := r.db.SelectContext(ctx, &buckets, query); err != nil {
		return nil, fmt.Errorf("count events by month: %w", err)
	}
	return buckets, nil
}

// CountByLocation returns events per location, busiest first.
func (r *EventRepository) CountByLocation(ctx context.Context) ([]models.CountBucket, error) {
	buckets := make([]models.CountBucket, 0)
	const query = `SELECT location AS key, COUNT(*) AS count FROM feste GROUP BY location ORDER BY count DESC, location`
	if err := r.db.SelectContext(ctx, &buckets, query); err != nil {
		return nil, fmt.Errorf("count events by location: %w", err)
	}
	return buckets, nil
}

// CountByStatus returns events per status. Statuses without rows are
// reported as zero.
func (r *EventRepository) CountByStatus(ctx context.Context) (map[models.EventStatus]int, error) {
	var rows []struct {
		Stato models.EventStatus `db:"stato"`
		Total int                `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT stato, COUNT(*) AS total FROM feste GROUP BY stato`); err != nil {
		return nil, fmt.Errorf("count events by status: %w", err)
	}
	result := make(map[models.EventStatus]int, len(models.EventStatuses))
	for _, status := range models.EventStatuses {
		result[status] = 0
	}
	for _, row := range rows {
		result[row.Stato] = row.Total
	}
	return result, nil
}

// AverageCapacity returns max_partecipanti averaged over every event and
// rounded to the nearest integer; zero without events.
func (r *EventRepository) AverageCapacity(ctx context.Context) (int, error) {
	var avg int
	const query = `SELECT COALESCE(ROUND(AVG(max_partecipanti)), 0)::int FROM feste`
	if err := r.db.GetContext(ctx, &avg, query); err != nil {
		return 0, fmt.Errorf("average event capacity: %w", err)
	}
	return avg, nil
}
