package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	maildomain "scholarmail-backend/internal/mail/domain"
	"scholarmail-backend/internal/mailbox/repository"
)

var (
	// ErrNoWatchTopic is returned when no Pub/Sub topic is configured to
	// receive the watch's notifications.
	ErrNoWatchTopic = errors.New("no pub/sub topic configured for mailbox watches")

	ErrConnectionNotFound = errors.New("connection not found")
)

// WatchRenewer re-registers provider push notifications for every active
// connection. Gmail watches expire after seven days, so the renewal runs
// daily; renewing an unexpired watch is a cheap no-op on the provider side.
type WatchRenewer struct {
	connRepo repository.ConnectionRepository
	tokens   *TokenManager
	provider maildomain.MailProvider
	topic    string
	log      *slog.Logger
}

func NewWatchRenewer(connRepo repository.ConnectionRepository, tokens *TokenManager, provider maildomain.MailProvider, topic string) *WatchRenewer {
	return &WatchRenewer{
		connRepo: connRepo,
		tokens:   tokens,
		provider: provider,
		topic:    topic,
		log:      slog.With("component", "watch"),
	}
}

// RenewAll refreshes the watch on every active connection. Failures are
// per-connection; one bad mailbox never blocks the rest.
func (r *WatchRenewer) RenewAll(ctx context.Context) {
	if r.topic == "" {
		r.log.Warn("skipping watch renewal, no pub/sub topic configured")
		return
	}

	conns, err := r.connRepo.ListAll()
	if err != nil {
		r.log.Error("failed to list connections for watch renewal", "error", err)
		return
	}

	for _, conn := range conns {
		if conn.Paused() {
			continue
		}
		if err := r.Renew(ctx, conn.ID); err != nil {
			r.log.Error("watch renewal failed", "email", conn.EmailAddress, "error", err)
		}
	}
}

// Renew refreshes the watch for one connection.
func (r *WatchRenewer) Renew(ctx context.Context, connectionID string) error {
	if r.topic == "" {
		return ErrNoWatchTopic
	}

	conn, err := r.connRepo.FindByID(connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("connection %s: %w", connectionID, ErrConnectionNotFound)
	}

	access, err := r.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return err
	}
	if err := r.provider.Watch(ctx, access, r.topic); err != nil {
		return err
	}
	r.log.Info("watch renewed", "email", conn.EmailAddress)
	return nil
}

// Run renews all watches immediately and then on the given interval until
// ctx is cancelled.
func (r *WatchRenewer) Run(ctx context.Context, interval time.Duration) {
	r.RenewAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RenewAll(ctx)
		}
	}
}
