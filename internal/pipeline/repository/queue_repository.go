package repository

import (
	"errors"
	"time"

	pipelinedomain "scholarmail-backend/internal/pipeline/domain"

	"gorm.io/gorm"
)

type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a GORM-backed QueueRepository.
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Enqueue(item *pipelinedomain.QueueItem) (bool, error) {
	if err := r.db.Create(item).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *queueRepository) NextEligible(now time.Time) (*pipelinedomain.QueueItem, error) {
	var item pipelinedomain.QueueItem
	err := r.db.
		Where("status = ?", pipelinedomain.StatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("priority ASC, created_at ASC").
		First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *queueRepository) Update(item *pipelinedomain.QueueItem) error {
	return r.db.Save(item).Error
}

func (r *queueRepository) CountByStatus() (map[pipelinedomain.QueueStatus]int64, error) {
	type row struct {
		Status pipelinedomain.QueueStatus
		Count  int64
	}
	var rows []row
	err := r.db.Model(&pipelinedomain.QueueItem{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[pipelinedomain.QueueStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Count
	}
	return counts, nil
}

func (r *queueRepository) TerminalFailures(limit int) ([]*pipelinedomain.QueueItem, error) {
	var items []*pipelinedomain.QueueItem
	err := r.db.
		Where("status = ?", pipelinedomain.StatusFailed).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
