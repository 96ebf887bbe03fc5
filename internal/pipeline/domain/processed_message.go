package domain

import "time"

// ProcessedMessage is the append-only record of one classified message,
// keyed by (mailbox address, provider message id). Its existence is the
// cross-run dedup guarantee: a queue item whose message already has a row
// here is short-circuited as a duplicate.
type ProcessedMessage struct {
	ID                string `json:"id" gorm:"primaryKey"`
	EmailAddress      string `json:"email_address" gorm:"not null;uniqueIndex:idx_processed_address_message"`
	ProviderMessageID string `json:"provider_message_id" gorm:"not null;uniqueIndex:idx_processed_address_message"`
	ThreadID          string `json:"thread_id" gorm:"index"`

	ShouldReply bool    `json:"should_reply"`
	Category    string  `json:"category"`
	Priority    int     `json:"priority"`
	Confidence  float64 `json:"confidence"`
	ReplyText   string  `json:"reply_text,omitempty"`
	Reason      string  `json:"reason,omitempty"`

	// DispatchError records a terminal send failure for operator follow-up;
	// the reply is never automatically re-sent.
	DispatchError string `json:"dispatch_error,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}
