package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scholarmail-backend/internal/intake/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Subscriber pulls mailbox change notifications from a Pub/Sub
// subscription and funnels them through the same intake path as the HTTP
// webhook. Messages are always acked: dedup and malformed handling happen
// inside the intake service.
type Subscriber struct {
	client  *pubsub.Client
	intake  *usecase.IntakeService
	topic   string
	subName string
	log     *slog.Logger
}

func NewSubscriber(ctx context.Context, projectID, topicName, credentialsFile string, intake *usecase.IntakeService) (*Subscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Subscriber{
		client:  client,
		intake:  intake,
		topic:   topicName,
		subName: topicName + "-sub",
		log:     slog.With("component", "pubsub"),
	}, nil
}

// Start ensures the subscription exists and blocks receiving messages
// until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) {
	sub := s.client.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		s.log.Error("failed to check subscription", "subscription", s.subName, "error", err)
		return
	}

	if !exists {
		topic := s.client.Topic(s.topic)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			s.log.Error("failed to check topic", "topic", s.topic, "error", err)
			return
		}
		if !topicExists {
			s.log.Error("topic does not exist, cannot create subscription", "topic", s.topic)
			return
		}

		sub, err = s.client.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			s.log.Error("failed to create subscription", "subscription", s.subName, "error", err)
			return
		}
		s.log.Info("created subscription", "subscription", s.subName)
	}

	s.log.Info("listening for mailbox notifications", "subscription", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := s.intake.IngestNotification(ctx, msg.Data)
		s.log.Debug("pulled notification", "result", result.String())
		msg.Ack()
	})
	if err != nil {
		s.log.Error("receive loop ended", "error", err)
	}
}
