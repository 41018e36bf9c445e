package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
	"github.com/noah-isme/feste-api/pkg/export"
)

var eventExportHeaders = []string{"titolo", "data_inizio", "data_fine", "location", "stato", "max_partecipanti", "confermati", "prezzo", "tags"}

type eventLister interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
}

type confirmedCounter interface {
	CountConfirmedByEvent(ctx context.Context) (map[string]int, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders the event roster as CSV or PDF.
type ExportService struct {
	events    eventLister
	confirmed confirmedCounter
	exporters map[string]export.Exporter
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService with the CSV and PDF renderers.
func NewExportService(events eventLister, confirmed confirmedCounter, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	csv := export.NewCSVExporter()
	pdf := export.NewPDFExporter()
	return &ExportService{
		events:    events,
		confirmed: confirmed,
		exporters: map[string]export.Exporter{csv.Extension(): csv, pdf.Extension(): pdf},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ExportEvents renders every event in the requested format.
func (s *ExportService) ExportEvents(ctx context.Context, principal *models.Principal, format string) (*ExportFile, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	exporter, ok := s.exporters[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	now := s.now()
	events, _, err := s.events.List(ctx, models.EventFilter{Time: models.EventTimeAll, Now: now})
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to list events")
	}

	var confirmed map[string]int
	if s.confirmed != nil {
		if confirmed, err = s.confirmed.CountConfirmedByEvent(ctx); err != nil {
			return nil, appErrors.Upstream(err, "failed to count participations")
		}
	}

	dataset := export.Dataset{Title: "Feste", Headers: eventExportHeaders, Rows: make([]map[string]string, 0, len(events))}
	for _, event := range events {
		row := map[string]string{
			"titolo":           event.Titolo,
			"data_inizio":      event.DataInizio.Format("2006-01-02 15:04"),
			"location":         event.Location,
			"stato":            string(event.Stato),
			"max_partecipanti": strconv.Itoa(event.MaxPartecipanti),
			"tags":             strings.Join(event.Tags, " "),
		}
		if event.DataFine != nil {
			row["data_fine"] = event.DataFine.Format("2006-01-02 15:04")
		}
		if event.Prezzo != nil {
			row["prezzo"] = strconv.FormatFloat(*event.Prezzo, 'f', 2, 64)
		}
		if confirmed != nil {
			row["confermati"] = strconv.Itoa(confirmed[event.ID])
		}
		dataset.Rows = append(dataset.Rows, row)
	}

	content, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("events exported", zap.String("actor_id", principal.ID), zap.String("format", format), zap.Int("rows", len(dataset.Rows)))

	return &ExportFile{
		Filename:    fmt.Sprintf("feste-%s.%s", now.Format("20060102"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Content:     content,
	}, nil
}
