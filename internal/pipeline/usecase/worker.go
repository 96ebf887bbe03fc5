package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	maildomain "scholarmail-backend/internal/mail/domain"
	mailboxrepo "scholarmail-backend/internal/mailbox/repository"
	mailboxusecase "scholarmail-backend/internal/mailbox/usecase"
	pipelinedomain "scholarmail-backend/internal/pipeline/domain"
	"scholarmail-backend/internal/pipeline/repository"
	"scholarmail-backend/pkg/ai"

	"github.com/google/uuid"
)

const duplicateReason = "duplicate — already processed"

// Alerter notifies operators about items that exhausted their retries.
type Alerter interface {
	TerminalFailure(ctx context.Context, title string, fields map[string]string)
}

// WorkerConfig carries the externally supplied pacing and retry tunables.
type WorkerConfig struct {
	BatchSize      int
	ItemTimeout    time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	InterItemDelay time.Duration
	PollInterval   time.Duration
}

// Worker is the single sequential queue consumer. One item at a time, a
// minimum gap between item starts, a bounded classification timeout per
// item. Outbound send velocity is capped by this sequencing; running more
// than one worker per deployment defeats it.
type Worker struct {
	queue      repository.QueueRepository
	processed  repository.ProcessedMessageRepository
	connRepo   mailboxrepo.ConnectionRepository
	tokens     *mailboxusecase.TokenManager
	provider   maildomain.MailProvider
	classifier ai.Classifier
	knowledge  ai.KnowledgeSource // optional
	delays     *DelayPolicy
	alerts     Alerter // optional
	cfg        WorkerConfig
	log        *slog.Logger

	lastStart time.Time
}

func NewWorker(
	queue repository.QueueRepository,
	processed repository.ProcessedMessageRepository,
	connRepo mailboxrepo.ConnectionRepository,
	tokens *mailboxusecase.TokenManager,
	provider maildomain.MailProvider,
	classifier ai.Classifier,
	knowledge ai.KnowledgeSource,
	delays *DelayPolicy,
	alerts Alerter,
	cfg WorkerConfig,
) *Worker {
	return &Worker{
		queue:      queue,
		processed:  processed,
		connRepo:   connRepo,
		tokens:     tokens,
		provider:   provider,
		classifier: classifier,
		knowledge:  knowledge,
		delays:     delays,
		alerts:     alerts,
		cfg:        cfg,
		log:        slog.With("component", "worker"),
	}
}

// Run polls the queue until ctx is cancelled, draining up to BatchSize
// items per tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("queue worker started",
		"poll_interval", w.cfg.PollInterval, "batch_size", w.cfg.BatchSize)

	for {
		if n, err := w.RunOnce(ctx); err != nil {
			w.log.Error("queue pass failed", "error", err)
		} else if n > 0 {
			w.log.Info("queue pass finished", "processed", n)
		}

		select {
		case <-ctx.Done():
			w.log.Info("queue worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes at most BatchSize eligible items and returns how many
// it handled. It returns early when the queue drains or ctx is cancelled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	handled := 0
	for handled < w.cfg.BatchSize {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}

		item, err := w.queue.NextEligible(time.Now())
		if err != nil {
			return handled, fmt.Errorf("failed to select next item: %w", err)
		}
		if item == nil {
			return handled, nil
		}

		if err := w.pace(ctx); err != nil {
			return handled, err
		}

		w.processItem(ctx, item)
		handled++
	}
	return handled, nil
}

// pace enforces the minimum gap between consecutive item starts.
func (w *Worker) pace(ctx context.Context) error {
	if !w.lastStart.IsZero() {
		if wait := w.cfg.InterItemDelay - time.Since(w.lastStart); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}
	}
	w.lastStart = time.Now()
	return nil
}

// processItem drives one item through its full lifecycle. All failure
// handling is folded into the item's own state; only selection errors
// propagate to the caller.
func (w *Worker) processItem(ctx context.Context, item *pipelinedomain.QueueItem) {
	log := w.log.With("item_id", item.ID, "email", item.EmailAddress,
		"message_id", item.ProviderMessageID)

	// Cross-run dedup: a message that already has a processed record is
	// never classified again.
	exists, err := w.processed.Exists(item.EmailAddress, item.ProviderMessageID)
	if err != nil {
		w.fail(ctx, item, fmt.Sprintf("dedup check failed: %v", err), log)
		return
	}
	if exists {
		log.Warn("skipping already-processed message")
		w.failTerminal(item, duplicateReason, log)
		return
	}

	if err := item.Transition(pipelinedomain.StatusProcessing); err != nil {
		log.Error("refusing item in unexpected state", "status", item.Status, "error", err)
		return
	}
	now := time.Now()
	item.StartedAt = &now
	if err := w.queue.Update(item); err != nil {
		log.Error("failed to persist processing transition", "error", err)
		return
	}

	result, err := w.classify(ctx, item)
	if err != nil {
		w.fail(ctx, item, fmt.Sprintf("classification failed: %v", err), log)
		return
	}

	rec := &pipelinedomain.ProcessedMessage{
		ID:                uuid.New().String(),
		EmailAddress:      item.EmailAddress,
		ProviderMessageID: item.ProviderMessageID,
		ThreadID:          item.ThreadID,
		ShouldReply:       result.ShouldReply,
		Category:          result.Category,
		Priority:          result.Priority,
		Confidence:        result.Confidence,
		Reason:            result.Reason,
		ProcessedAt:       time.Now(),
	}

	if result.ShouldReply {
		rec.ReplyText = result.Reply

		// Pacing control: an instant reply is a detectable automation
		// signal, so sleep a randomized interval before dispatching.
		delay := w.delays.DelayFor(result.Category, result.Priority)
		log.Info("holding reply for humanized delay",
			"delay", delay, "category", result.Category, "priority", result.Priority)
		if err := sleepCtx(ctx, delay); err != nil {
			w.fail(context.WithoutCancel(ctx), item, "shutdown during pre-send delay", log)
			return
		}

		// Send failure is terminal for the reply but not for the item:
		// classification stands and is never re-attempted just to redeliver.
		if err := w.dispatch(ctx, item, result.Reply); err != nil {
			log.Error("reply dispatch failed", "error", err)
			rec.DispatchError = err.Error()
		}
	}

	if err := w.processed.Create(rec); err != nil {
		w.fail(ctx, item, fmt.Sprintf("failed to record result: %v", err), log)
		return
	}

	if err := item.Transition(pipelinedomain.StatusCompleted); err != nil {
		log.Error("failed completion transition", "error", err)
		return
	}
	done := time.Now()
	item.CompletedAt = &done
	item.LastError = ""
	if err := w.queue.Update(item); err != nil {
		log.Error("failed to persist completion", "error", err)
	}
	log.Info("item completed", "should_reply", result.ShouldReply,
		"category", result.Category, "dispatch_error", rec.DispatchError != "")
}

// classify runs the AI decision under the per-item timeout, with knowledge
// base snippets and prior thread decisions as context when available.
func (w *Worker) classify(ctx context.Context, item *pipelinedomain.QueueItem) (*maildomain.ClassificationResult, error) {
	cctx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
	defer cancel()

	input := ai.ClassifyInput{
		From:    item.From,
		Subject: item.Subject,
		Body:    item.Body,
	}

	if w.knowledge != nil {
		query := item.Subject + "\n" + item.Body
		snippets, err := w.knowledge.Query(cctx, query, 3)
		if err != nil {
			// Retrieval is best-effort; classification proceeds without it.
			w.log.Warn("knowledge base query failed", "error", err)
		} else {
			input.Knowledge = snippets
		}
	}

	if item.ThreadID != "" {
		prior, err := w.processed.RecentByThread(item.EmailAddress, item.ThreadID, 5)
		if err != nil {
			w.log.Warn("thread history lookup failed", "error", err)
		}
		for _, p := range prior {
			summary := fmt.Sprintf("category=%s should_reply=%t", p.Category, p.ShouldReply)
			if p.ReplyText != "" {
				summary += " replied: " + p.ReplyText
			}
			input.ThreadSummary = append(input.ThreadSummary, summary)
		}
	}

	return w.classifier.Classify(cctx, input)
}

// dispatch resolves a fresh token immediately before sending; the one used
// for classification may have expired during the humanized delay.
func (w *Worker) dispatch(ctx context.Context, item *pipelinedomain.QueueItem, text string) error {
	conn, err := w.connRepo.FindByID(item.MailboxConnectionID)
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil {
		return errors.New("mailbox connection no longer exists")
	}

	access, err := w.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return fmt.Errorf("no valid token for dispatch: %w", err)
	}

	original := &maildomain.NormalizedMessage{
		ProviderMessageID: item.ProviderMessageID,
		ThreadID:          item.ThreadID,
		RFCMessageID:      item.RFCMessageID,
		From:              item.From,
		Subject:           item.Subject,
	}
	return w.provider.SendReply(ctx, access, conn.EmailAddress, original, text)
}

// fail records a failed attempt and either reschedules the item or leaves
// it terminally failed once retries are exhausted.
func (w *Worker) fail(ctx context.Context, item *pipelinedomain.QueueItem, reason string, log *slog.Logger) {
	if err := item.Transition(pipelinedomain.StatusFailed); err != nil {
		log.Error("failed failure transition", "error", err)
		return
	}
	item.RetryCount++
	item.LastError = reason

	if item.RetryEligible(w.cfg.MaxRetries) {
		if err := item.Transition(pipelinedomain.StatusPending); err != nil {
			log.Error("failed reschedule transition", "error", err)
			return
		}
		next := time.Now().Add(w.cfg.RetryBackoff)
		item.NextRetryAt = &next
		log.Warn("item failed, rescheduled", "reason", reason,
			"retry_count", item.RetryCount, "next_retry_at", next)
	} else {
		log.Error("item terminally failed", "reason", reason, "retry_count", item.RetryCount)
		if w.alerts != nil {
			w.alerts.TerminalFailure(ctx, "Queue item exhausted retries", map[string]string{
				"email":      item.EmailAddress,
				"message_id": item.ProviderMessageID,
				"subject":    item.Subject,
				"error":      reason,
			})
		}
	}

	if err := w.queue.Update(item); err != nil {
		log.Error("failed to persist failure", "error", err)
	}
}

// failTerminal marks the item failed with no retry, used for duplicates.
func (w *Worker) failTerminal(item *pipelinedomain.QueueItem, reason string, log *slog.Logger) {
	if err := item.Transition(pipelinedomain.StatusFailed); err != nil {
		log.Error("failed duplicate transition", "error", err)
		return
	}
	item.RetryCount = w.cfg.MaxRetries
	item.LastError = reason
	if err := w.queue.Update(item); err != nil {
		log.Error("failed to persist duplicate failure", "error", err)
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
