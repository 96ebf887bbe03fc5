package domain

import (
	"context"
	"time"
)

// NormalizedMessage is the provider-agnostic form of one inbound email.
type NormalizedMessage struct {
	ProviderMessageID string    `json:"provider_message_id"`
	ThreadID          string    `json:"thread_id"`
	RFCMessageID      string    `json:"rfc_message_id"` // Message-Id header, without angle brackets
	From              string    `json:"from"`
	To                []string  `json:"to"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	Snippet           string    `json:"snippet"`
	ReceivedAt        time.Time `json:"received_at"`
}

// ClassificationResult is the structured decision returned by the AI
// classifier for one message. It is not persisted on its own; the worker
// folds it into a ProcessedMessage row.
type ClassificationResult struct {
	ShouldReply bool
	Category    string
	Priority    int
	Confidence  float64
	Reply       string
	Reason      string
	// Fallback is set when the classifier output could not be parsed and
	// the safe default was substituted.
	Fallback bool
}

// HistoryPage is one window of mailbox changes reported by the provider.
type HistoryPage struct {
	AddedMessageIDs []string
	// LatestHistoryID is the provider's newest cursor covering this window.
	LatestHistoryID uint64
}

// MailProvider abstracts the remote mail provider behind the sync engine,
// fetcher and reply dispatcher. Every call takes the access token resolved
// by the token lifecycle manager immediately beforehand.
type MailProvider interface {
	// CurrentHistoryID returns the mailbox's present cursor without listing
	// any messages. Used for the one-time bootstrap.
	CurrentHistoryID(ctx context.Context, accessToken string) (uint64, error)

	// ListHistory returns all change records strictly after startHistoryID.
	ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (*HistoryPage, error)

	// GetMessage resolves a message id to full normalized content.
	GetMessage(ctx context.Context, accessToken, messageID string) (*NormalizedMessage, error)

	// SendReply sends text as a threaded reply to the original message.
	SendReply(ctx context.Context, accessToken, fromAddress string, original *NormalizedMessage, text string) error

	// Watch (re-)registers push notifications for the mailbox on the topic.
	Watch(ctx context.Context, accessToken, topicName string) error
}
