package service

import "github.com/pothole-prioritizer/backend/internal/models"

var statusOrder = map[models.Status]int{
	models.StatusReported:   0,
	models.StatusVerified:   1,
	models.StatusInProgress: 2,
	models.StatusFixed:      3,
}

// CanTransition reports whether the status workflow permits moving from one
// status to another. Transitions are strictly forward; fixed is terminal.
// Correcting an erroneous status must be modeled as a new action elsewhere,
// never as a reverse transition.
func CanTransition(from, to models.Status) bool {
	if from == models.StatusFixed {
		return false
	}
	fromOrder, ok := statusOrder[from]
	if !ok {
		return false
	}
	toOrder, ok := statusOrder[to]
	if !ok {
		return false
	}
	return toOrder > fromOrder
}
