package api

import (
	intakeDelivery "scholarmail-backend/internal/intake/delivery"
	operatorDelivery "scholarmail-backend/internal/operator/delivery"
	"scholarmail-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	config          *config.Config
	webhookHandler  *intakeDelivery.WebhookHandler
	operatorHandler *operatorDelivery.OperatorHandler
}

func NewHandler(cfg *config.Config, webhookHandler *intakeDelivery.WebhookHandler, operatorHandler *operatorDelivery.OperatorHandler) *Handler {
	return &Handler{
		config:          cfg,
		webhookHandler:  webhookHandler,
		operatorHandler: operatorHandler,
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	SetupRoutes(r, h.config, h.webhookHandler, h.operatorHandler)

	return r.Run(addr)
}
