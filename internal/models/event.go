package models

import (
	"time"

	"github.com/lib/pq"
)

// EventStatus is the lifecycle state of a festa.
type EventStatus string

const (
	EventStatusPlanned   EventStatus = "pianificata"
	EventStatusOngoing   EventStatus = "in_corso"
	EventStatusConcluded EventStatus = "conclusa"
	EventStatusCancelled EventStatus = "annullata"
)

// EventStatuses lists every known event status.
var EventStatuses = []EventStatus{EventStatusPlanned, EventStatusOngoing, EventStatusConcluded, EventStatusCancelled}

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPlanned, EventStatusOngoing, EventStatusConcluded, EventStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s EventStatus) Terminal() bool {
	return s == EventStatusConcluded || s == EventStatusCancelled
}

// Event is a schedulable festa.
type Event struct {
	ID              string         `db:"id" json:"id"`
	Titolo          string         `db:"titolo" json:"titolo"`
	Descrizione     string         `db:"descrizione" json:"descrizione"`
	DataInizio      time.Time      `db:"data_inizio" json:"data_inizio"`
	DataFine        *time.Time     `db:"data_fine" json:"data_fine,omitempty"`
	Location        string         `db:"location" json:"location"`
	MaxPartecipanti int            `db:"max_partecipanti" json:"max_partecipanti"`
	Stato           EventStatus    `db:"stato" json:"stato"`
	Prezzo          *float64       `db:"prezzo" json:"prezzo,omitempty"`
	ImmagineURL     string         `db:"immagine_url" json:"immagine_url"`
	CreatoreID      *string        `db:"creatore_id" json:"creatore_id,omitempty"`
	Tags            pq.StringArray `db:"tags" json:"tags"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`

	// Passato is derived at read time and never stored.
	Passato bool `db:"-" json:"passato"`
}

// MarkPast sets the derived Passato flag relative to now.
func (e *Event) MarkPast(now time.Time) {
	e.Passato = e.DataInizio.Before(now)
}

// EventTime selects upcoming, past or all events.
type EventTime string

const (
	EventTimeAll      EventTime = "tutti"
	EventTimeUpcoming EventTime = "futuri"
	EventTimePast     EventTime = "passati"
)

// EventFilter captures listing criteria for events.
type EventFilter struct {
	Search   string
	Stato    *EventStatus
	Time     EventTime
	Day      *time.Time
	Now      time.Time
	Page     int
	PageSize int
}
