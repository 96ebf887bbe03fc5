package api

import (
	"net/http"

	intakeDelivery "scholarmail-backend/internal/intake/delivery"
	operatorDelivery "scholarmail-backend/internal/operator/delivery"
	"scholarmail-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, cfg *config.Config, webhookHandler *intakeDelivery.WebhookHandler, operatorHandler *operatorDelivery.OperatorHandler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Push-notification intake. Unauthenticated by design: the
		// envelope carries no secrets and the handler always answers 200.
		api.POST("/notifications/gmail", webhookHandler.HandleGmailNotification)

		// Operator routes (protected)
		operator := api.Group("/operator")
		operator.Use(operatorDelivery.AuthMiddleware(cfg.OperatorJWTSecret))
		{
			operator.GET("/connections", operatorHandler.ListConnections)
			operator.POST("/connections/:id/pause", operatorHandler.PauseConnection)
			operator.POST("/connections/:id/resume", operatorHandler.ResumeConnection)
			operator.POST("/connections/:id/watch", operatorHandler.RenewWatch)
			operator.GET("/queue/stats", operatorHandler.QueueStats)
			operator.GET("/queue/failures", operatorHandler.QueueFailures)
			operator.GET("/dispatch-failures", operatorHandler.DispatchFailures)
			operator.POST("/knowledge", operatorHandler.UpsertKnowledge)
		}
	}
}
