package models

import "time"

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationInvite   NotificationType = "invito"
	NotificationReminder NotificationType = "promemoria"
	NotificationUpdate   NotificationType = "aggiornamento"
)

// Notification is a message addressed to an identity.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	FestaID   *string          `db:"festa_id" json:"festa_id,omitempty"`
	Tipo      NotificationType `db:"tipo" json:"tipo"`
	Messaggio string           `db:"messaggio" json:"messaggio"`
	Letta     bool             `db:"letta" json:"letta"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
