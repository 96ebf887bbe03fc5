package repository

import (
	"errors"

	intakedomain "scholarmail-backend/internal/intake/domain"
)

// ErrDuplicateEvent is returned when the (address, history id) pair has
// already been recorded.
var ErrDuplicateEvent = errors.New("notification event already recorded")

// NotificationEventRepository records push notifications for dedup and audit.
type NotificationEventRepository interface {
	// Record inserts the event, returning ErrDuplicateEvent when the
	// uniqueness constraint rejects it.
	Record(event *intakedomain.NotificationEvent) error
}
