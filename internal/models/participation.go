package models

import "time"

// ParticipationStatus is the lifecycle state of a participation request.
type ParticipationStatus string

const (
	ParticipationPending   ParticipationStatus = "in_attesa"
	ParticipationConfirmed ParticipationStatus = "confermato"
	ParticipationRejected  ParticipationStatus = "rifiutato"
)

// ParticipationStatuses lists every known participation status.
var ParticipationStatuses = []ParticipationStatus{ParticipationPending, ParticipationConfirmed, ParticipationRejected}

// Valid reports whether s is a known status.
func (s ParticipationStatus) Valid() bool {
	switch s {
	case ParticipationPending, ParticipationConfirmed, ParticipationRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s ParticipationStatus) Terminal() bool {
	return s == ParticipationConfirmed || s == ParticipationRejected
}

// Participation links an identity to a festa.
type Participation struct {
	ID        string              `db:"id" json:"id"`
	FestaID   string              `db:"festa_id" json:"festa_id"`
	UserID    string              `db:"user_id" json:"user_id"`
	Stato     ParticipationStatus `db:"stato" json:"stato"`
	Note      string              `db:"note" json:"note"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt time.Time           `db:"updated_at" json:"updated_at"`
}

// ParticipationDetail joins a participation with display fields.
type ParticipationDetail struct {
	Participation
	UserEmail   string    `db:"user_email" json:"user_email,omitempty"`
	EventTitolo string    `db:"event_titolo" json:"event_titolo,omitempty"`
	EventStart  time.Time `db:"event_data_inizio" json:"event_data_inizio"`
}
