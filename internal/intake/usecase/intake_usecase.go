package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	intakedomain "scholarmail-backend/internal/intake/domain"
	"scholarmail-backend/internal/intake/repository"

	"github.com/google/uuid"
)

// Result is the outcome of one intake attempt. Every outcome is
// acknowledged successfully to the pusher; only Accepted triggers a sync.
type Result int

const (
	Accepted Result = iota
	Duplicate
	Malformed
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "malformed"
	}
}

// mailboxNotification is the inner Gmail push payload.
type mailboxNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// pushEnvelope is the Pub/Sub push delivery wrapper around it.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// SyncFunc is invoked once per accepted notification.
type SyncFunc func(ctx context.Context, emailAddress string)

// IntakeService decodes push notification envelopes and absorbs duplicate
// deliveries through the event table's uniqueness constraint. Correctness
// under concurrent deliveries relies entirely on that constraint.
type IntakeService struct {
	events repository.NotificationEventRepository
	sync   SyncFunc
	log    *slog.Logger
}

func NewIntakeService(events repository.NotificationEventRepository, sync SyncFunc) *IntakeService {
	return &IntakeService{
		events: events,
		sync:   sync,
		log:    slog.With("component", "intake"),
	}
}

// IngestPushEnvelope handles an HTTP push delivery: the notification JSON
// is base64-encoded inside the envelope's message.data field.
func (s *IntakeService) IngestPushEnvelope(ctx context.Context, body []byte) Result {
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.log.Warn("malformed push envelope", "error", err)
		return Malformed
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		s.log.Warn("push envelope data is not base64", "error", err)
		return Malformed
	}

	return s.IngestNotification(ctx, data)
}

// IngestNotification handles the decoded notification payload directly,
// as delivered by a pull subscription.
func (s *IntakeService) IngestNotification(ctx context.Context, data []byte) Result {
	var notif mailboxNotification
	if err := json.Unmarshal(data, &notif); err != nil {
		s.log.Warn("malformed notification payload", "error", err)
		return Malformed
	}
	if notif.EmailAddress == "" || notif.HistoryID == 0 {
		s.log.Warn("notification missing address or history id", "payload", string(data))
		return Malformed
	}

	event := &intakedomain.NotificationEvent{
		ID:           uuid.New().String(),
		EmailAddress: notif.EmailAddress,
		HistoryID:    notif.HistoryID,
		ReceivedAt:   time.Now(),
	}
	if err := s.events.Record(event); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			s.log.Debug("duplicate notification absorbed",
				"email", notif.EmailAddress, "history_id", notif.HistoryID)
			return Duplicate
		}
		// A storage failure is acknowledged like a malformed payload so the
		// pusher does not retry indefinitely; it surfaces in logs only.
		s.log.Error("failed to record notification event",
			"email", notif.EmailAddress, "history_id", notif.HistoryID, "error", err)
		return Malformed
	}

	s.log.Info("notification accepted", "email", notif.EmailAddress, "history_id", notif.HistoryID)

	go s.sync(context.WithoutCancel(ctx), notif.EmailAddress)

	return Accepted
}
