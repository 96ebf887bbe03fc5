package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	maildomain "scholarmail-backend/internal/mail/domain"
)

type fakeWatchProvider struct {
	watchTopics []string
	watchErr    error
}

func (p *fakeWatchProvider) CurrentHistoryID(ctx context.Context, accessToken string) (uint64, error) {
	return 0, nil
}

func (p *fakeWatchProvider) ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (*maildomain.HistoryPage, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeWatchProvider) GetMessage(ctx context.Context, accessToken, messageID string) (*maildomain.NormalizedMessage, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeWatchProvider) SendReply(ctx context.Context, accessToken, fromAddress string, original *maildomain.NormalizedMessage, text string) error {
	return nil
}

func (p *fakeWatchProvider) Watch(ctx context.Context, accessToken, topicName string) error {
	p.watchTopics = append(p.watchTopics, topicName)
	return p.watchErr
}

func TestRenewRegistersWatchOnTopic(t *testing.T) {
	repo := newFakeConnRepo()
	mgr, box := newTestManager(t, repo)
	conn := sealedConn(t, box, time.Now().Add(time.Hour))
	repo.Create(conn)

	provider := &fakeWatchProvider{}
	renewer := NewWatchRenewer(repo, mgr, provider, "projects/p/topics/gmail-updates")

	if err := renewer.Renew(context.Background(), conn.ID); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if len(provider.watchTopics) != 1 || provider.watchTopics[0] != "projects/p/topics/gmail-updates" {
		t.Fatalf("watch topics = %v", provider.watchTopics)
	}
}

func TestRenewUnknownConnection(t *testing.T) {
	repo := newFakeConnRepo()
	mgr, _ := newTestManager(t, repo)
	provider := &fakeWatchProvider{}
	renewer := NewWatchRenewer(repo, mgr, provider, "projects/p/topics/gmail-updates")

	err := renewer.Renew(context.Background(), "no-such-id")
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Renew = %v, want ErrConnectionNotFound", err)
	}
	if len(provider.watchTopics) != 0 {
		t.Fatal("watch registered for nonexistent connection")
	}
}

func TestRenewWithoutTopic(t *testing.T) {
	repo := newFakeConnRepo()
	mgr, box := newTestManager(t, repo)
	conn := sealedConn(t, box, time.Now().Add(time.Hour))
	repo.Create(conn)

	provider := &fakeWatchProvider{}
	renewer := NewWatchRenewer(repo, mgr, provider, "")

	if err := renewer.Renew(context.Background(), conn.ID); !errors.Is(err, ErrNoWatchTopic) {
		t.Fatalf("Renew = %v, want ErrNoWatchTopic", err)
	}
	if len(provider.watchTopics) != 0 {
		t.Fatal("watch registered with an empty topic")
	}

	// The renewal loop must not fan out empty-topic watches either.
	renewer.RenewAll(context.Background())
	if len(provider.watchTopics) != 0 {
		t.Fatal("RenewAll registered watches with an empty topic")
	}
}

func TestRenewAllSkipsPausedConnections(t *testing.T) {
	repo := newFakeConnRepo()
	mgr, box := newTestManager(t, repo)

	active := sealedConn(t, box, time.Now().Add(time.Hour))
	repo.Create(active)

	paused := sealedConn(t, box, time.Now().Add(time.Hour))
	paused.ID = "conn-2"
	paused.EmailAddress = "b@x.com"
	repo.Create(paused)
	repo.Pause(paused.ID, "token refresh rejected")

	provider := &fakeWatchProvider{}
	renewer := NewWatchRenewer(repo, mgr, provider, "projects/p/topics/gmail-updates")

	renewer.RenewAll(context.Background())
	if len(provider.watchTopics) != 1 {
		t.Fatalf("watches registered = %d, want 1 (paused connection skipped)", len(provider.watchTopics))
	}
}
