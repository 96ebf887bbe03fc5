package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	maildomain "scholarmail-backend/internal/mail/domain"
	mailboxdomain "scholarmail-backend/internal/mailbox/domain"
	mailboxrepo "scholarmail-backend/internal/mailbox/repository"
	mailboxusecase "scholarmail-backend/internal/mailbox/usecase"
)

// Outcome describes what one SyncMailbox invocation did.
type Outcome string

const (
	// OutcomeNotConfigured means no connection exists for the address.
	OutcomeNotConfigured Outcome = "not_configured"
	// OutcomePaused means the connection is on hold and was skipped.
	OutcomePaused Outcome = "paused"
	// OutcomeTokenUnavailable means no valid access token could be produced.
	OutcomeTokenUnavailable Outcome = "token_unavailable"
	// OutcomeBootstrapped means this was the first sync: the current cursor
	// was captured and no backlog was fetched.
	OutcomeBootstrapped Outcome = "bootstrapped"
	// OutcomeNoChanges means the history window contained no new messages.
	OutcomeNoChanges Outcome = "no_changes"
	// OutcomeSynced means new messages were fetched and enqueued.
	OutcomeSynced Outcome = "synced"
)

// Report summarizes one sync run for logging and the operator API.
type Report struct {
	Outcome  Outcome
	Enqueued int
	Skipped  int
	CursorAt uint64
}

// EnqueueFunc hands a fetched message to the pipeline. It reports whether
// a new queue item was created.
type EnqueueFunc func(conn *mailboxdomain.MailboxConnection, msg *maildomain.NormalizedMessage) (bool, error)

// Engine runs the incremental mailbox sync: resolve the connection and a
// valid token, list history since the stored cursor, fetch and enqueue each
// added message, then advance the cursor. Per-address serialization keeps
// concurrent notification bursts from racing the cursor.
type Engine struct {
	connRepo mailboxrepo.ConnectionRepository
	tokens   *mailboxusecase.TokenManager
	provider maildomain.MailProvider
	enqueue  EnqueueFunc
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(connRepo mailboxrepo.ConnectionRepository, tokens *mailboxusecase.TokenManager, provider maildomain.MailProvider, enqueue EnqueueFunc) *Engine {
	return &Engine{
		connRepo: connRepo,
		tokens:   tokens,
		provider: provider,
		enqueue:  enqueue,
		log:      slog.With("component", "sync"),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) addressLock(emailAddress string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[emailAddress]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[emailAddress] = lock
	}
	return lock
}

// SyncMailbox brings the mailbox for emailAddress up to date with the
// provider. It is safe to call concurrently for the same address; runs
// for one address are serialized.
func (e *Engine) SyncMailbox(ctx context.Context, emailAddress string) (*Report, error) {
	lock := e.addressLock(emailAddress)
	lock.Lock()
	defer lock.Unlock()

	conn, err := e.connRepo.FindByEmailAddress(emailAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to look up connection: %w", err)
	}
	if conn == nil {
		e.log.Warn("notification for unconfigured mailbox", "email", emailAddress)
		return &Report{Outcome: OutcomeNotConfigured}, nil
	}
	if conn.Paused() {
		e.log.Info("skipping sync for paused connection",
			"email", emailAddress, "reason", conn.PausedReason)
		return &Report{Outcome: OutcomePaused}, nil
	}

	access, err := e.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		var tokenErr *mailboxusecase.TokenError
		if errors.As(err, &tokenErr) {
			e.log.Warn("sync aborted, no valid token",
				"email", emailAddress, "reason", tokenErr.Reason)
			return &Report{Outcome: OutcomeTokenUnavailable}, nil
		}
		return nil, err
	}

	// First sync for this mailbox: record where "now" is and start
	// incremental syncing from there. The existing backlog is never
	// processed retroactively.
	if !conn.Bootstrapped() {
		cursor, err := e.provider.CurrentHistoryID(ctx, access)
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap cursor: %w", err)
		}
		if err := e.connRepo.AdvanceCursor(conn.ID, cursor); err != nil {
			return nil, fmt.Errorf("failed to store bootstrap cursor: %w", err)
		}
		e.log.Info("mailbox bootstrapped", "email", emailAddress, "cursor", cursor)
		return &Report{Outcome: OutcomeBootstrapped, CursorAt: cursor}, nil
	}

	page, err := e.provider.ListHistory(ctx, access, *conn.LastHistoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history from %d: %w", *conn.LastHistoryID, err)
	}

	report := &Report{Outcome: OutcomeNoChanges, CursorAt: page.LatestHistoryID}
	for _, id := range page.AddedMessageIDs {
		msg, err := e.provider.GetMessage(ctx, access, id)
		if err != nil {
			// One unfetchable message must not block its siblings; the
			// skip is logged and the cursor still advances.
			e.log.Error("failed to fetch message, skipping",
				"email", emailAddress, "message_id", id, "error", err)
			report.Skipped++
			continue
		}
		created, err := e.enqueue(conn, msg)
		if err != nil {
			e.log.Error("failed to enqueue message, skipping",
				"email", emailAddress, "message_id", id, "error", err)
			report.Skipped++
			continue
		}
		if created {
			report.Enqueued++
		}
	}

	if page.LatestHistoryID > *conn.LastHistoryID {
		if err := e.connRepo.AdvanceCursor(conn.ID, page.LatestHistoryID); err != nil {
			return nil, fmt.Errorf("failed to advance cursor to %d: %w", page.LatestHistoryID, err)
		}
	}

	if report.Enqueued > 0 || report.Skipped > 0 {
		report.Outcome = OutcomeSynced
		e.log.Info("mailbox synced", "email", emailAddress,
			"enqueued", report.Enqueued, "skipped", report.Skipped,
			"cursor", page.LatestHistoryID)
	}
	return report, nil
}
