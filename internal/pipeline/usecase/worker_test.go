package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	maildomain "scholarmail-backend/internal/mail/domain"
	mailboxdomain "scholarmail-backend/internal/mailbox/domain"
	mailboxusecase "scholarmail-backend/internal/mailbox/usecase"
	pipelinedomain "scholarmail-backend/internal/pipeline/domain"
	"scholarmail-backend/pkg/ai"
	"scholarmail-backend/pkg/crypto"

	"github.com/google/uuid"
)

const testKey = "8f3a1c5e9b2d7f4a6c8e0b3d5f7a9c1e2b4d6f8a0c2e4b6d8f0a2c4e6b8d0f2a"

type fakeQueueRepo struct {
	mu    sync.Mutex
	items []*pipelinedomain.QueueItem
}

func (r *fakeQueueRepo) Enqueue(item *pipelinedomain.QueueItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.EmailAddress == item.EmailAddress && existing.ProviderMessageID == item.ProviderMessageID {
			return false, nil
		}
	}
	r.items = append(r.items, item)
	return true, nil
}

func (r *fakeQueueRepo) NextEligible(now time.Time) (*pipelinedomain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var eligible []*pipelinedomain.QueueItem
	for _, item := range r.items {
		if item.Status != pipelinedomain.StatusPending {
			continue
		}
		if item.NextRetryAt != nil && item.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, item)
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return eligible[0], nil
}

func (r *fakeQueueRepo) Update(item *pipelinedomain.QueueItem) error {
	return nil // items are shared pointers in this fake
}

func (r *fakeQueueRepo) CountByStatus() (map[pipelinedomain.QueueStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[pipelinedomain.QueueStatus]int64)
	for _, item := range r.items {
		counts[item.Status]++
	}
	return counts, nil
}

func (r *fakeQueueRepo) TerminalFailures(limit int) ([]*pipelinedomain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pipelinedomain.QueueItem
	for _, item := range r.items {
		if item.Status == pipelinedomain.StatusFailed && !item.RetryEligible(3) {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeProcessedRepo struct {
	mu      sync.Mutex
	records []*pipelinedomain.ProcessedMessage
}

func (r *fakeProcessedRepo) Exists(emailAddress, providerMessageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.EmailAddress == emailAddress && rec.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeProcessedRepo) Create(rec *pipelinedomain.ProcessedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeProcessedRepo) RecentByThread(emailAddress, threadID string, limit int) ([]*pipelinedomain.ProcessedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pipelinedomain.ProcessedMessage
	for _, rec := range r.records {
		if rec.EmailAddress == emailAddress && rec.ThreadID == threadID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeProcessedRepo) RecentDispatchFailures(limit int) ([]*pipelinedomain.ProcessedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pipelinedomain.ProcessedMessage
	for _, rec := range r.records {
		if rec.DispatchError != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeConnRepo struct {
	mu    sync.Mutex
	conns map[string]*mailboxdomain.MailboxConnection
}

func newFakeConnRepo() *fakeConnRepo {
	return &fakeConnRepo{conns: make(map[string]*mailboxdomain.MailboxConnection)}
}

func (r *fakeConnRepo) Create(conn *mailboxdomain.MailboxConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnRepo) FindByID(id string) (*mailboxdomain.MailboxConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[id], nil
}

func (r *fakeConnRepo) FindByEmailAddress(emailAddress string) (*mailboxdomain.MailboxConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.EmailAddress == emailAddress {
			return conn, nil
		}
	}
	return nil, nil
}

func (r *fakeConnRepo) ListAll() ([]*mailboxdomain.MailboxConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mailboxdomain.MailboxConnection
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out, nil
}

func (r *fakeConnRepo) UpdateTokens(id string, accessTokenEnc, refreshTokenEnc []byte, expiry time.Time) error {
	return nil
}

func (r *fakeConnRepo) AdvanceCursor(id string, historyID uint64) error { return nil }

func (r *fakeConnRepo) Pause(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.Status = mailboxdomain.StatusPaused
		conn.PausedReason = reason
	}
	return nil
}

func (r *fakeConnRepo) Resume(id string) error { return nil }

type fakeClassifier struct {
	mu    sync.Mutex
	calls []time.Time
	fn    func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error)
}

func (c *fakeClassifier) Classify(ctx context.Context, input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, time.Now())
	c.mu.Unlock()
	return c.fn(input)
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeDispatchProvider struct {
	mu        sync.Mutex
	sends     []time.Time
	originals []*maildomain.NormalizedMessage
	sendErr   error
}

func (p *fakeDispatchProvider) CurrentHistoryID(ctx context.Context, accessToken string) (uint64, error) {
	return 0, nil
}

func (p *fakeDispatchProvider) ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (*maildomain.HistoryPage, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeDispatchProvider) GetMessage(ctx context.Context, accessToken, messageID string) (*maildomain.NormalizedMessage, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeDispatchProvider) SendReply(ctx context.Context, accessToken, fromAddress string, original *maildomain.NormalizedMessage, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, time.Now())
	p.originals = append(p.originals, original)
	return p.sendErr
}

func (p *fakeDispatchProvider) Watch(ctx context.Context, accessToken, topicName string) error {
	return nil
}

func (p *fakeDispatchProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

type fakeAlerter struct {
	mu    sync.Mutex
	count int
}

func (a *fakeAlerter) TerminalFailure(ctx context.Context, title string, fields map[string]string) {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()
}

type workerFixture struct {
	worker     *Worker
	queue      *fakeQueueRepo
	processed  *fakeProcessedRepo
	classifier *fakeClassifier
	provider   *fakeDispatchProvider
	alerts     *fakeAlerter
	conn       *mailboxdomain.MailboxConnection
}

func newWorkerFixture(t *testing.T, cfg WorkerConfig, classify func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error)) *workerFixture {
	t.Helper()

	box, err := crypto.NewBox(testKey)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	access, _ := box.Seal("access-token")
	refresh, _ := box.Seal("refresh-token")

	connRepo := newFakeConnRepo()
	conn := &mailboxdomain.MailboxConnection{
		ID:              uuid.New().String(),
		UserID:          uuid.New().String(),
		Provider:        "gmail",
		EmailAddress:    "mailbox@example.com",
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		TokenExpiry:     time.Now().Add(time.Hour),
		Status:          mailboxdomain.StatusActive,
	}
	connRepo.Create(conn)

	f := &workerFixture{
		queue:      &fakeQueueRepo{},
		processed:  &fakeProcessedRepo{},
		classifier: &fakeClassifier{fn: classify},
		provider:   &fakeDispatchProvider{},
		alerts:     &fakeAlerter{},
		conn:       conn,
	}
	tokens := mailboxusecase.NewTokenManager(connRepo, box, "client", "secret", 2*time.Minute)
	delays := NewDelayPolicy(cfg.InterItemDelay/2, cfg.InterItemDelay)

	f.worker = NewWorker(f.queue, f.processed, connRepo, tokens, f.provider,
		f.classifier, nil, delays, f.alerts, cfg)
	return f
}

func (f *workerFixture) enqueue(t *testing.T, messageID string, createdAt time.Time) *pipelinedomain.QueueItem {
	t.Helper()
	item := &pipelinedomain.QueueItem{
		ID:                  uuid.New().String(),
		MailboxConnectionID: f.conn.ID,
		UserID:              f.conn.UserID,
		EmailAddress:        f.conn.EmailAddress,
		ProviderMessageID:   messageID,
		ThreadID:            "thread-" + messageID,
		RFCMessageID:        messageID + "@mail.example.com",
		From:                "Student <student@example.com>",
		Subject:             "Scholarship question",
		Body:                "When is the application deadline?",
		Status:              pipelinedomain.StatusPending,
		Priority:            pipelinedomain.DefaultPriority,
		CreatedAt:           createdAt,
	}
	created, err := f.queue.Enqueue(item)
	if err != nil || !created {
		t.Fatalf("Enqueue(%s) = %v, %v", messageID, created, err)
	}
	return item
}

func fastConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:      10,
		ItemTimeout:    time.Second,
		MaxRetries:     3,
		RetryBackoff:   time.Millisecond,
		InterItemDelay: 10 * time.Millisecond,
		PollInterval:   time.Second,
	}
}

func TestWorkerNoReplyCompletes(t *testing.T) {
	f := newWorkerFixture(t, fastConfig(), func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		return &maildomain.ClassificationResult{
			ShouldReply: false, Category: "spam", Priority: 9, Confidence: 0.95,
			Reason: "automated newsletter",
		}, nil
	})
	item := f.enqueue(t, "m1", time.Now())

	n, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}
	if item.Status != pipelinedomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", item.Status)
	}
	if f.provider.sendCount() != 0 {
		t.Fatalf("no-reply item dispatched a reply")
	}
	if len(f.processed.records) != 1 || f.processed.records[0].ReplyText != "" {
		t.Fatalf("processed record = %+v, want one with empty reply", f.processed.records)
	}
}

func TestWorkerReplyDispatchedAfterDelay(t *testing.T) {
	cfg := fastConfig()
	f := newWorkerFixture(t, cfg, func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		return &maildomain.ClassificationResult{
			ShouldReply: true, Category: "scholarship", Priority: 3, Confidence: 0.9,
			Reply: "Thanks, we'll follow up", Reason: "genuine question",
		}, nil
	})
	item := f.enqueue(t, "m2", time.Now())

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if item.Status != pipelinedomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", item.Status)
	}
	if f.provider.sendCount() != 1 {
		t.Fatalf("sends = %d, want 1", f.provider.sendCount())
	}

	// delay floor is InterItemDelay/2 in the fixture
	floor := cfg.InterItemDelay / 2
	gap := f.provider.sends[0].Sub(f.classifier.calls[0])
	if gap < floor {
		t.Fatalf("dispatch after %s, want at least the %s floor", gap, floor)
	}

	rec := f.processed.records[0]
	if rec.ReplyText != "Thanks, we'll follow up" || rec.DispatchError != "" {
		t.Fatalf("processed record = %+v", rec)
	}

	// The dispatched original must carry the Message-Id so the reply
	// threads for the recipient.
	original := f.provider.originals[0]
	if original.RFCMessageID != "m2@mail.example.com" {
		t.Fatalf("dispatched original RFCMessageID = %q, want m2@mail.example.com", original.RFCMessageID)
	}
	if original.ThreadID != item.ThreadID {
		t.Fatalf("dispatched original ThreadID = %q, want %q", original.ThreadID, item.ThreadID)
	}
}

func TestWorkerDispatchFailureStillCompletes(t *testing.T) {
	f := newWorkerFixture(t, fastConfig(), func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		return &maildomain.ClassificationResult{
			ShouldReply: true, Category: "admissions", Priority: 2, Confidence: 0.8,
			Reply: "Hello", Reason: "question",
		}, nil
	})
	f.provider.sendErr = errors.New("smtp unavailable")
	item := f.enqueue(t, "m3", time.Now())

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if item.Status != pipelinedomain.StatusCompleted {
		t.Fatalf("status = %s, want completed despite dispatch failure", item.Status)
	}
	rec := f.processed.records[0]
	if rec.DispatchError == "" {
		t.Fatalf("dispatch failure not recorded")
	}

	failures, _ := f.processed.RecentDispatchFailures(10)
	if len(failures) != 1 {
		t.Fatalf("dispatch failures = %d, want 1", len(failures))
	}
}

func TestWorkerRetryBound(t *testing.T) {
	cfg := fastConfig()
	f := newWorkerFixture(t, cfg, func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		return nil, errors.New("model overloaded")
	})
	item := f.enqueue(t, "m4", time.Now())

	// Each pass fails the item once and reschedules it; the backoff is
	// short so the next pass picks it up again.
	for i := 0; i < cfg.MaxRetries+2; i++ {
		if _, err := f.worker.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		time.Sleep(2 * cfg.RetryBackoff)
	}

	if got := f.classifier.callCount(); got != cfg.MaxRetries {
		t.Fatalf("classifier invoked %d times, want exactly %d", got, cfg.MaxRetries)
	}
	if item.Status != pipelinedomain.StatusFailed {
		t.Fatalf("status = %s, want terminally failed", item.Status)
	}
	if item.RetryCount != cfg.MaxRetries {
		t.Fatalf("retry count = %d, want %d", item.RetryCount, cfg.MaxRetries)
	}
	if f.alerts.count != 1 {
		t.Fatalf("terminal failure alerts = %d, want 1", f.alerts.count)
	}
}

func TestWorkerDuplicateSkippedWithoutClassifier(t *testing.T) {
	f := newWorkerFixture(t, fastConfig(), func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		t.Error("classifier invoked for duplicate item")
		return nil, errors.New("unreachable")
	})

	f.processed.Create(&pipelinedomain.ProcessedMessage{
		ID:                uuid.New().String(),
		EmailAddress:      f.conn.EmailAddress,
		ProviderMessageID: "m5",
		ProcessedAt:       time.Now(),
	})
	item := f.enqueue(t, "m5", time.Now())

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if item.Status != pipelinedomain.StatusFailed {
		t.Fatalf("status = %s, want failed", item.Status)
	}
	if item.LastError != duplicateReason {
		t.Fatalf("last error = %q", item.LastError)
	}
	if len(f.processed.records) != 1 {
		t.Fatalf("duplicate produced a second processed record")
	}
}

func TestWorkerSequentialPacing(t *testing.T) {
	cfg := fastConfig()
	cfg.InterItemDelay = 30 * time.Millisecond

	f := newWorkerFixture(t, cfg, func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		return &maildomain.ClassificationResult{
			ShouldReply: false, Category: "other", Priority: 5, Confidence: 0.7,
		}, nil
	})
	base := time.Now()
	f.enqueue(t, "p1", base)
	f.enqueue(t, "p2", base.Add(time.Millisecond))
	f.enqueue(t, "p3", base.Add(2*time.Millisecond))

	n, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Fatalf("handled = %d, want 3", n)
	}

	starts := f.classifier.calls
	if len(starts) != 3 {
		t.Fatalf("classifier calls = %d, want 3", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < cfg.InterItemDelay {
			t.Fatalf("gap between item %d and %d starts = %s, want >= %s",
				i, i+1, gap, cfg.InterItemDelay)
		}
	}
}

func TestWorkerBatchBound(t *testing.T) {
	cfg := fastConfig()
	cfg.BatchSize = 2
	cfg.InterItemDelay = time.Millisecond

	f := newWorkerFixture(t, cfg, func(input ai.ClassifyInput) (*maildomain.ClassificationResult, error) {
		return &maildomain.ClassificationResult{ShouldReply: false, Category: "other", Priority: 5}, nil
	})
	base := time.Now()
	f.enqueue(t, "b1", base)
	f.enqueue(t, "b2", base.Add(time.Millisecond))
	f.enqueue(t, "b3", base.Add(2*time.Millisecond))

	n, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("handled = %d, want batch bound of 2", n)
	}

	counts, _ := f.queue.CountByStatus()
	if counts[pipelinedomain.StatusPending] != 1 {
		t.Fatalf("pending after bounded pass = %d, want 1", counts[pipelinedomain.StatusPending])
	}
}
