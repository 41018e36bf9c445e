package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// ErrStaleStatus is returned when a guarded status update finds the row in a
// different status than the caller read.
var ErrStaleStatus = errors.New("status changed since read")

// ErrCapacityReached is returned when an event has no confirmed places left.
var ErrCapacityReached = errors.New("event capacity reached")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const invalidTextRepresentation = "22P02"

// lookupErr reports malformed identifiers as sql.ErrNoRows so callers see a
// missing row instead of a driver failure.
func lookupErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation {
		return sql.ErrNoRows
	}
	return err
}
