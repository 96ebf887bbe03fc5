package domain

import (
	"fmt"
	"time"
)

// QueueStatus enumerates the queue item lifecycle.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// DefaultPriority is assigned to items enqueued by the sync engine; lower
// values are dequeued first.
const DefaultPriority = 5

// QueueItem is one unit of work: a normalized inbound message awaiting
// classification and, possibly, a reply. The enqueuer creates rows; the
// worker is the only mutator of status and retry fields.
type QueueItem struct {
	ID                  string `json:"id" gorm:"primaryKey"`
	MailboxConnectionID string `json:"mailbox_connection_id" gorm:"not null;index"`
	UserID              string `json:"user_id" gorm:"not null"`
	EmailAddress        string `json:"email_address" gorm:"not null;uniqueIndex:idx_queue_address_message"`
	ProviderMessageID   string `json:"provider_message_id" gorm:"not null;uniqueIndex:idx_queue_address_message"`
	ThreadID            string `json:"thread_id"`
	// RFCMessageID is the original's Message-Id header, without angle
	// brackets; replies thread onto it via In-Reply-To/References.
	RFCMessageID string `json:"rfc_message_id"`

	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	Status     QueueStatus `json:"status" gorm:"not null;default:pending;index"`
	Priority   int         `json:"priority" gorm:"not null;default:5"`
	RetryCount int         `json:"retry_count" gorm:"not null;default:0"`
	LastError  string      `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// legal transitions of the queue state machine
var transitions = map[QueueStatus][]QueueStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {StatusPending}, // reschedule while retries remain
}

// Transition moves the item to next, rejecting anything the state machine
// does not allow. Field stamping beyond the status itself is the caller's
// job; this only guards ordering.
func (q *QueueItem) Transition(next QueueStatus) error {
	for _, allowed := range transitions[q.Status] {
		if allowed == next {
			q.Status = next
			return nil
		}
	}
	return fmt.Errorf("illegal queue transition %s -> %s for item %s", q.Status, next, q.ID)
}

// RetryEligible reports whether a failed attempt should be rescheduled
// rather than left terminally failed.
func (q *QueueItem) RetryEligible(maxRetries int) bool {
	return q.RetryCount < maxRetries
}
