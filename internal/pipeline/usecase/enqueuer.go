package usecase

import (
	"log/slog"

	maildomain "scholarmail-backend/internal/mail/domain"
	mailboxdomain "scholarmail-backend/internal/mailbox/domain"
	pipelinedomain "scholarmail-backend/internal/pipeline/domain"
	"scholarmail-backend/internal/pipeline/repository"

	"github.com/google/uuid"
)

// Enqueuer turns normalized messages into pending queue items. Enqueueing
// is idempotent per (mailbox address, message id) so redelivered
// notifications and overlapping sync windows never produce double work.
type Enqueuer struct {
	queue repository.QueueRepository
	log   *slog.Logger
}

func NewEnqueuer(queue repository.QueueRepository) *Enqueuer {
	return &Enqueuer{queue: queue, log: slog.With("component", "enqueuer")}
}

// Enqueue inserts a pending item for the message. It returns true when a
// new item was created and false when the message was already queued.
func (e *Enqueuer) Enqueue(conn *mailboxdomain.MailboxConnection, msg *maildomain.NormalizedMessage) (bool, error) {
	item := &pipelinedomain.QueueItem{
		ID:                  uuid.New().String(),
		MailboxConnectionID: conn.ID,
		UserID:              conn.UserID,
		EmailAddress:        conn.EmailAddress,
		ProviderMessageID:   msg.ProviderMessageID,
		ThreadID:            msg.ThreadID,
		RFCMessageID:        msg.RFCMessageID,
		From:                msg.From,
		Subject:             msg.Subject,
		Body:                msg.Body,
		Status:              pipelinedomain.StatusPending,
		Priority:            pipelinedomain.DefaultPriority,
	}

	created, err := e.queue.Enqueue(item)
	if err != nil {
		return false, err
	}
	if !created {
		e.log.Debug("message already queued, skipping",
			"email", conn.EmailAddress, "message_id", msg.ProviderMessageID)
	}
	return created, nil
}
