package domain

import "time"

// Connection status values.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// MailboxConnection identifies one connected mailbox: its owner, provider
// and OAuth material, plus the last-seen sync cursor.
//
// LastHistoryID is nil until the bootstrap sync captures the mailbox's
// current cursor; it only ever moves forward after that.
type MailboxConnection struct {
	ID           string `json:"id" gorm:"primaryKey"`
	UserID       string `json:"user_id" gorm:"not null;index"`
	Provider     string `json:"provider" gorm:"not null;uniqueIndex:idx_provider_address"`
	EmailAddress string `json:"email_address" gorm:"not null;uniqueIndex:idx_provider_address"`

	AccessTokenEnc  []byte    `json:"-" gorm:"not null"`
	RefreshTokenEnc []byte    `json:"-" gorm:"not null"`
	TokenExpiry     time.Time `json:"token_expiry"`

	LastHistoryID *uint64 `json:"last_history_id"`

	Status       string `json:"status" gorm:"not null;default:active"`
	PausedReason string `json:"paused_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bootstrapped reports whether the connection has ever completed a
// bootstrap sync.
func (c *MailboxConnection) Bootstrapped() bool {
	return c.LastHistoryID != nil
}

// Paused reports whether processing for this mailbox is on hold.
func (c *MailboxConnection) Paused() bool {
	return c.Status == StatusPaused
}
