package repository

import (
	pipelinedomain "scholarmail-backend/internal/pipeline/domain"

	"gorm.io/gorm"
)

type processedMessageRepository struct {
	db *gorm.DB
}

// NewProcessedMessageRepository creates a GORM-backed
// ProcessedMessageRepository.
func NewProcessedMessageRepository(db *gorm.DB) ProcessedMessageRepository {
	return &processedMessageRepository{db: db}
}

func (r *processedMessageRepository) Exists(emailAddress, providerMessageID string) (bool, error) {
	var count int64
	err := r.db.Model(&pipelinedomain.ProcessedMessage{}).
		Where("email_address = ? AND provider_message_id = ?", emailAddress, providerMessageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *processedMessageRepository) Create(rec *pipelinedomain.ProcessedMessage) error {
	return r.db.Create(rec).Error
}

func (r *processedMessageRepository) RecentByThread(emailAddress, threadID string, limit int) ([]*pipelinedomain.ProcessedMessage, error) {
	var recs []*pipelinedomain.ProcessedMessage
	err := r.db.
		Where("email_address = ? AND thread_id = ?", emailAddress, threadID).
		Order("processed_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *processedMessageRepository) RecentDispatchFailures(limit int) ([]*pipelinedomain.ProcessedMessage, error) {
	var recs []*pipelinedomain.ProcessedMessage
	err := r.db.
		Where("dispatch_error <> ''").
		Order("processed_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}
