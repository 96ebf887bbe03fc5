package delivery

import (
	"io"
	"net/http"

	"scholarmail-backend/internal/intake/usecase"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives provider push-notification envelopes over HTTP.
type WebhookHandler struct {
	intake *usecase.IntakeService
}

func NewWebhookHandler(intake *usecase.IntakeService) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

// HandleGmailNotification always returns 200, regardless of the internal
// duplicate/malformed/processing outcome, so the upstream push system never
// enters a retry storm.
func (h *WebhookHandler) HandleGmailNotification(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": usecase.Malformed.String()})
		return
	}

	result := h.intake.IngestPushEnvelope(c.Request.Context(), body)
	c.JSON(http.StatusOK, gin.H{"status": result.String()})
}
