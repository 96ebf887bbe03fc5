package delivery

import (
	"context"
	"errors"
	"net/http"

	mailboxrepo "scholarmail-backend/internal/mailbox/repository"
	mailboxusecase "scholarmail-backend/internal/mailbox/usecase"
	pipelinerepo "scholarmail-backend/internal/pipeline/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// KnowledgeStore accepts knowledge-base snippets for the classifier.
type KnowledgeStore interface {
	Upsert(ctx context.Context, id, text string) error
}

// OperatorHandler exposes the operations surface: connection listing and
// pause/resume, queue statistics and failure feeds, manual watch
// re-registration, and knowledge-base maintenance.
type OperatorHandler struct {
	connRepo  mailboxrepo.ConnectionRepository
	queue     pipelinerepo.QueueRepository
	processed pipelinerepo.ProcessedMessageRepository
	watches   *mailboxusecase.WatchRenewer
	knowledge KnowledgeStore // optional
}

func NewOperatorHandler(
	connRepo mailboxrepo.ConnectionRepository,
	queue pipelinerepo.QueueRepository,
	processed pipelinerepo.ProcessedMessageRepository,
	watches *mailboxusecase.WatchRenewer,
	knowledge KnowledgeStore,
) *OperatorHandler {
	return &OperatorHandler{
		connRepo:  connRepo,
		queue:     queue,
		processed: processed,
		watches:   watches,
		knowledge: knowledge,
	}
}

// ListConnections returns every mailbox connection with its sync state.
func (h *OperatorHandler) ListConnections(c *gin.Context) {
	conns, err := h.connRepo.ListAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list connections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// PauseConnection puts a connection on hold; intake keeps acknowledging
// notifications for it but sync and replies stop.
func (h *OperatorHandler) PauseConnection(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "paused by operator"
	}

	if err := h.connRepo.Pause(c.Param("id"), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pause connection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// ResumeConnection lifts a pause. Typically used after the mailbox owner
// re-authenticated following a rejected refresh token.
func (h *OperatorHandler) ResumeConnection(c *gin.Context) {
	if err := h.connRepo.Resume(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume connection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// RenewWatch re-registers push notifications for one connection on demand.
func (h *OperatorHandler) RenewWatch(c *gin.Context) {
	err := h.watches.Renew(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, mailboxusecase.ErrConnectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
	case errors.Is(err, mailboxusecase.ErrNoWatchTopic):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "watch renewed"})
	}
}

// QueueStats returns item counts per status.
func (h *OperatorHandler) QueueStats(c *gin.Context) {
	counts, err := h.queue.CountByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count queue items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": counts})
}

// QueueFailures lists items that exhausted their retries.
func (h *OperatorHandler) QueueFailures(c *gin.Context) {
	items, err := h.queue.TerminalFailures(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failures"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": items})
}

// UpsertKnowledge adds or replaces one knowledge-base snippet used as
// retrieval context by the classifier.
func (h *OperatorHandler) UpsertKnowledge(c *gin.Context) {
	if h.knowledge == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "knowledge base not configured"})
		return
	}

	var req struct {
		ID   string `json:"id"`
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := h.knowledge.Upsert(c.Request.Context(), req.ID, req.Text); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": req.ID})
}

// DispatchFailures lists processed messages whose reply never got delivered.
func (h *OperatorHandler) DispatchFailures(c *gin.Context) {
	records, err := h.processed.RecentDispatchFailures(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dispatch failures"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatch_failures": records})
}
