package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	api "scholarmail-backend/cmd/api"
	intakeDelivery "scholarmail-backend/internal/intake/delivery"
	intakedomain "scholarmail-backend/internal/intake/domain"
	intakeRepo "scholarmail-backend/internal/intake/repository"
	intakeUsecase "scholarmail-backend/internal/intake/usecase"
	mailboxdomain "scholarmail-backend/internal/mailbox/domain"
	mailboxRepo "scholarmail-backend/internal/mailbox/repository"
	mailboxUsecase "scholarmail-backend/internal/mailbox/usecase"
	operatorDelivery "scholarmail-backend/internal/operator/delivery"
	pipelinedomain "scholarmail-backend/internal/pipeline/domain"
	pipelineRepo "scholarmail-backend/internal/pipeline/repository"
	pipelineUsecase "scholarmail-backend/internal/pipeline/usecase"
	syncUsecase "scholarmail-backend/internal/sync/usecase"
	"scholarmail-backend/pkg/ai"
	"scholarmail-backend/pkg/chroma"
	"scholarmail-backend/pkg/config"
	"scholarmail-backend/pkg/crypto"
	"scholarmail-backend/pkg/database"
	"scholarmail-backend/pkg/fcm"
	"scholarmail-backend/pkg/gemini"
	"scholarmail-backend/pkg/gmail"
	"scholarmail-backend/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(
		&mailboxdomain.MailboxConnection{},
		&intakedomain.NotificationEvent{},
		&pipelinedomain.QueueItem{},
		&pipelinedomain.ProcessedMessage{},
	); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	box, err := crypto.NewBox(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("failed to initialize token encryption", "error", err)
		os.Exit(1)
	}

	// Repositories
	connRepo := mailboxRepo.NewConnectionRepository(db)
	eventRepo := intakeRepo.NewNotificationEventRepository(db)
	queueRepo := pipelineRepo.NewQueueRepository(db)
	processedRepo := pipelineRepo.NewProcessedMessageRepository(db)

	// Provider and token lifecycle
	provider := gmail.NewService()
	tokens := mailboxUsecase.NewTokenManager(connRepo, box, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.TokenRefreshSkew)

	// AI classifier; runs on the safe-default path when unconfigured so the
	// pipeline still drains, just with generic acknowledgements.
	var classifier ai.Classifier
	if cfg.GeminiAPIKey != "" {
		classifier = ai.NewClassifier(gemini.NewService(cfg.GeminiAPIKey))
	} else {
		slog.Warn("GEMINI_API_KEY not set, every message gets the fallback decision")
		classifier = ai.NewClassifier(fallbackGenerator{})
	}

	// Knowledge base (optional)
	var knowledge ai.KnowledgeSource
	var knowledgeStore operatorDelivery.KnowledgeStore
	if cfg.ChromaAPIKey != "" {
		chromaClient, err := chroma.NewClient(cfg)
		if err != nil {
			slog.Warn("failed to initialize knowledge base, classifying without it", "error", err)
		} else {
			knowledge = chromaClient
			knowledgeStore = chromaClient
		}
	}

	// Operator alerting (optional)
	var alerts pipelineUsecase.Alerter
	if cfg.FirebaseCredentials != "" && len(cfg.OperatorAlertTokens) > 0 {
		fcmClient, err := fcm.NewClient(cfg.FirebaseCredentials, cfg.OperatorAlertTokens)
		if err != nil {
			slog.Warn("failed to initialize operator alerting", "error", err)
		} else {
			alerts = fcmClient
		}
	}

	// Pipeline: enqueuer, sync engine, intake, worker
	enqueuer := pipelineUsecase.NewEnqueuer(queueRepo)
	engine := syncUsecase.NewEngine(connRepo, tokens, provider, enqueuer.Enqueue)
	intake := intakeUsecase.NewIntakeService(eventRepo, func(ctx context.Context, emailAddress string) {
		if _, err := engine.SyncMailbox(ctx, emailAddress); err != nil {
			slog.Error("mailbox sync failed", "email", emailAddress, "error", err)
		}
	})

	delays := pipelineUsecase.NewDelayPolicy(cfg.ReplyDelayFloor, cfg.ReplyDelayCeiling)
	worker := pipelineUsecase.NewWorker(queueRepo, processedRepo, connRepo, tokens, provider,
		classifier, knowledge, delays, alerts, pipelineUsecase.WorkerConfig{
			BatchSize:      cfg.QueueBatchSize,
			ItemTimeout:    cfg.ItemTimeout,
			MaxRetries:     cfg.MaxRetries,
			RetryBackoff:   cfg.RetryBackoff,
			InterItemDelay: cfg.InterItemDelay,
			PollInterval:   cfg.QueuePollInterval,
		})

	ctx := context.Background()
	go worker.Run(ctx)

	// Pull subscriber and watch renewal only run when Pub/Sub is configured;
	// the HTTP push endpoint works either way.
	topicName := cfg.GooglePubSubTopic
	if parts := strings.Split(topicName, "/"); len(parts) > 1 {
		topicName = parts[len(parts)-1]
	}
	fullTopic := ""
	if cfg.GoogleProjectID != "" {
		fullTopic = "projects/" + cfg.GoogleProjectID + "/topics/" + topicName
	}
	watches := mailboxUsecase.NewWatchRenewer(connRepo, tokens, provider, fullTopic)

	if cfg.GoogleProjectID != "" {
		subscriber, err := intakeDelivery.NewSubscriber(ctx, cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, intake)
		if err != nil {
			slog.Error("failed to initialize pub/sub subscriber", "error", err)
		} else {
			go subscriber.Start(ctx)
		}
		go watches.Run(ctx, 24*time.Hour)
	} else {
		slog.Warn("GOOGLE_PROJECT_ID not configured, pub/sub subscriber and watch renewal disabled")
	}

	operatorHandler := operatorDelivery.NewOperatorHandler(connRepo, queueRepo, processedRepo, watches, knowledgeStore)
	handler := api.NewHandler(cfg, intakeDelivery.NewWebhookHandler(intake), operatorHandler)

	slog.Info("server starting", "port", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// fallbackGenerator stands in for the LLM when no API key is configured;
// its non-JSON output always parses to the safe default.
type fallbackGenerator struct{}

func (fallbackGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
