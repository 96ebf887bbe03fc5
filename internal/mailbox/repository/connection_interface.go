package repository

import (
	"time"

	mailboxdomain "scholarmail-backend/internal/mailbox/domain"
)

// ConnectionRepository defines the persistence operations for mailbox
// connections. All mutations are single-row writes; the cursor advance is
// conditional so a racing sync can never move it backwards.
type ConnectionRepository interface {
	Create(conn *mailboxdomain.MailboxConnection) error
	FindByID(id string) (*mailboxdomain.MailboxConnection, error)
	// FindByEmailAddress returns (nil, nil) when no connection is configured.
	FindByEmailAddress(emailAddress string) (*mailboxdomain.MailboxConnection, error)
	ListAll() ([]*mailboxdomain.MailboxConnection, error)

	// UpdateTokens persists a refreshed access token and its expiry. A
	// non-nil refreshTokenEnc replaces the stored refresh token too, for
	// providers that rotate it on refresh.
	UpdateTokens(id string, accessTokenEnc, refreshTokenEnc []byte, expiry time.Time) error

	// AdvanceCursor moves the sync cursor forward, never backwards.
	AdvanceCursor(id string, historyID uint64) error

	Pause(id, reason string) error
	Resume(id string) error
}
