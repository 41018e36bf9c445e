package models

import "time"

// CountBucket is one group of a grouped count.
type CountBucket struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

// EventTimeSplit counts events started before and from a boundary.
type EventTimeSplit struct {
	Past   int `db:"past" json:"past_events"`
	Future int `db:"future" json:"future_events"`
}

// DashboardStats summarises row counts for the admin dashboard.
type DashboardStats struct {
	TotalEvents            int                         `json:"total_events"`
	UpcomingEvents         int                         `json:"upcoming_events"`
	PastEvents             int                         `json:"past_events"`
	FutureEvents           int                         `json:"future_events"`
	EventsByMonth          []CountBucket               `json:"events_by_month"`
	EventsByLocation       []CountBucket               `json:"events_by_location"`
	EventsByStatus         map[EventStatus]int         `json:"events_by_status"`
	AverageCapacity        int                         `json:"average_max_partecipanti"`
	TotalUsers             int                         `json:"total_users"`
	NewUsers               int                         `json:"new_users"`
	ApprovedUsers          int                         `json:"approved_users"`
	PendingApprovals       int                         `json:"pending_approvals"`
	ParticipationsByStatus map[ParticipationStatus]int `json:"participations_by_status"`
	GeneratedAt            time.Time                   `json:"generated_at"`
}
