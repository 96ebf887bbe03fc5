package repository

import (
	"errors"

	intakedomain "scholarmail-backend/internal/intake/domain"

	"gorm.io/gorm"
)

type notificationEventRepository struct {
	db *gorm.DB
}

// NewNotificationEventRepository creates a GORM-backed event repository.
// Requires the DB to be opened with TranslateError so unique violations
// surface as gorm.ErrDuplicatedKey.
func NewNotificationEventRepository(db *gorm.DB) NotificationEventRepository {
	return &notificationEventRepository{db: db}
}

func (r *notificationEventRepository) Record(event *intakedomain.NotificationEvent) error {
	if err := r.db.Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}
