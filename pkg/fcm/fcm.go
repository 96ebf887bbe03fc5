package fcm

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Client wraps Firebase Cloud Messaging for operator alerting. Terminal
// pipeline failures are pushed to the configured operator devices.
type Client struct {
	messagingClient *messaging.Client
	tokens          []string
	log             *slog.Logger
}

// NewClient creates an FCM client from a credentials file and a fixed set
// of operator device tokens.
func NewClient(credentialsFile string, operatorTokens []string) (*Client, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return &Client{
		messagingClient: messagingClient,
		tokens:          operatorTokens,
		log:             slog.With("component", "fcm"),
	}, nil
}

// TerminalFailure pushes an alert about a terminally failed pipeline
// element to every operator device. Delivery failures are logged, never
// propagated: alerting must not break the pipeline.
func (c *Client) TerminalFailure(ctx context.Context, title string, fields map[string]string) {
	if c == nil || len(c.tokens) == 0 {
		return
	}

	body := ""
	for k, v := range fields {
		if body != "" {
			body += ", "
		}
		body += k + "=" + v
	}

	for _, token := range c.tokens {
		msg := &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data: fields,
		}
		if _, err := c.messagingClient.Send(ctx, msg); err != nil {
			c.log.Warn("failed to deliver operator alert", "error", err)
		}
	}
}
