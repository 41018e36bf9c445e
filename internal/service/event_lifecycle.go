package service

import (
	"fmt"

	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

var eventTransitions = map[models.EventStatus][]models.EventStatus{
	models.EventStatusPlanned: {models.EventStatusOngoing, models.EventStatusCancelled},
	models.EventStatusOngoing: {models.EventStatusConcluded, models.EventStatusCancelled},
}

var participationTransitions = map[models.ParticipationStatus][]models.ParticipationStatus{
	models.ParticipationPending: {models.ParticipationConfirmed, models.ParticipationRejected},
}

// ValidateEventTransition reports whether an event may move from one status
// to another. Self transitions and unknown statuses are illegal.
func ValidateEventTransition(from, to models.EventStatus) error {
	for _, allowed := range eventTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return invalidTransition("event", string(from), string(to))
}

// ValidateParticipationTransition reports whether a participation request may
// move from one status to another.
func ValidateParticipationTransition(from, to models.ParticipationStatus) error {
	for _, allowed := range participationTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return invalidTransition("participation", string(from), string(to))
}

func invalidTransition(entity, from, to string) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("%s cannot move from %q to %q", entity, from, to))
}
