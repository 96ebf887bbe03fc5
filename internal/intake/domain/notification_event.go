package domain

import "time"

// NotificationEvent records one provider push notification. The
// (EmailAddress, HistoryID) pair is unique: a second delivery of the same
// change violates the constraint and is absorbed as a duplicate. Rows are
// created on receipt and never updated.
type NotificationEvent struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	EmailAddress string    `json:"email_address" gorm:"not null;uniqueIndex:idx_address_history"`
	HistoryID    uint64    `json:"history_id" gorm:"not null;uniqueIndex:idx_address_history"`
	ReceivedAt   time.Time `json:"received_at"`
}
