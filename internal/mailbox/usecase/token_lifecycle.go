package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mailboxdomain "scholarmail-backend/internal/mailbox/domain"
	"scholarmail-backend/internal/mailbox/repository"
	"scholarmail-backend/pkg/crypto"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenErrorReason classifies token refresh failures.
type TokenErrorReason string

const (
	RefreshRejected TokenErrorReason = "refresh_rejected"
	RefreshNetwork  TokenErrorReason = "network"
)

// TokenError is returned when a valid access token could not be produced.
// Stored connection state is left untouched so a later invocation can retry.
type TokenError struct {
	Reason TokenErrorReason
	Err    error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token refresh failed (%s): %v", e.Reason, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// TokenManager validates and refreshes OAuth access tokens before any
// provider call. A refresh rejection pauses the connection so the owner
// can re-authenticate.
type TokenManager struct {
	connRepo  repository.ConnectionRepository
	box       *crypto.Box
	skew      time.Duration
	log       *slog.Logger
	refreshFn func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

func NewTokenManager(connRepo repository.ConnectionRepository, box *crypto.Box, clientID, clientSecret string, skew time.Duration) *TokenManager {
	oauth := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}
	return &TokenManager{
		connRepo: connRepo,
		box:      box,
		skew:     skew,
		log:      slog.With("component", "token"),
		refreshFn: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		},
	}
}

// EnsureValidToken returns an access token guaranteed not to be expired at
// call time, refreshing and persisting it first when necessary.
func (m *TokenManager) EnsureValidToken(ctx context.Context, conn *mailboxdomain.MailboxConnection) (string, error) {
	if time.Now().Before(conn.TokenExpiry.Add(-m.skew)) {
		access, err := m.box.Open(conn.AccessTokenEnc)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access token: %w", err)
		}
		return access, nil
	}

	refresh, err := m.box.Open(conn.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	fresh, err := m.refreshFn(ctx, refresh)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			m.log.Warn("refresh token rejected, pausing connection",
				"email", conn.EmailAddress, "error", err)
			if pauseErr := m.connRepo.Pause(conn.ID, "token refresh rejected"); pauseErr != nil {
				m.log.Error("failed to pause connection", "email", conn.EmailAddress, "error", pauseErr)
			}
			return "", &TokenError{Reason: RefreshRejected, Err: err}
		}
		return "", &TokenError{Reason: RefreshNetwork, Err: err}
	}

	sealed, err := m.box.Seal(fresh.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refreshed token: %w", err)
	}

	// Some providers rotate the refresh token on use; keep the new one or
	// the next refresh will be rejected.
	var sealedRefresh []byte
	if fresh.RefreshToken != "" && fresh.RefreshToken != refresh {
		sealedRefresh, err = m.box.Seal(fresh.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
		}
	}

	if err := m.connRepo.UpdateTokens(conn.ID, sealed, sealedRefresh, fresh.Expiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	conn.AccessTokenEnc = sealed
	conn.TokenExpiry = fresh.Expiry
	if sealedRefresh != nil {
		conn.RefreshTokenEnc = sealedRefresh
	}
	m.log.Debug("access token refreshed", "email", conn.EmailAddress, "expiry", fresh.Expiry)

	return fresh.AccessToken, nil
}
