package repository

import (
	"time"

	pipelinedomain "scholarmail-backend/internal/pipeline/domain"
)

// QueueRepository persists queue items. Enqueue is idempotent per
// (mailbox address, provider message id); everything else is single-row.
type QueueRepository interface {
	// Enqueue inserts the item; returns false when an item for the same
	// message already exists.
	Enqueue(item *pipelinedomain.QueueItem) (bool, error)

	// NextEligible returns the oldest pending item ordered by
	// (priority, created_at) whose next_retry_at is unset or due, or
	// (nil, nil) when the queue is empty.
	NextEligible(now time.Time) (*pipelinedomain.QueueItem, error)

	Update(item *pipelinedomain.QueueItem) error

	CountByStatus() (map[pipelinedomain.QueueStatus]int64, error)

	// TerminalFailures lists items that exhausted their retries, newest first.
	TerminalFailures(limit int) ([]*pipelinedomain.QueueItem, error)
}

// ProcessedMessageRepository persists the append-only classification records.
type ProcessedMessageRepository interface {
	Exists(emailAddress, providerMessageID string) (bool, error)
	Create(rec *pipelinedomain.ProcessedMessage) error

	// RecentByThread returns prior records for the thread, newest first,
	// used as conversation context for the classifier.
	RecentByThread(emailAddress, threadID string, limit int) ([]*pipelinedomain.ProcessedMessage, error)

	// RecentDispatchFailures lists records whose reply could not be
	// delivered, newest first.
	RecentDispatchFailures(limit int) ([]*pipelinedomain.ProcessedMessage, error)
}
