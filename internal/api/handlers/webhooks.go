package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/config"
	"github.com/audibible/narrator/internal/logx"
	"github.com/audibible/narrator/internal/webhook"
)

type WebhookTester interface {
	Targets() []config.WebhookTarget
	Test(ctx context.Context, index int) error
}

// WebhookResponse describes a configured target. Secrets stay server side.
type WebhookResponse struct {
	ID     int      `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Signed bool     `json:"signed"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WebhookHandler struct {
	sender  WebhookTester
	timeout time.Duration
}

func NewWebhookHandler(sender WebhookTester) *WebhookHandler {
	return &WebhookHandler{sender: sender, timeout: 10 * time.Second}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	targets := h.sender.Targets()
	responses := make([]WebhookResponse, 0, len(targets))
	for i, t := range targets {
		events := t.Events
		if len(events) == 0 {
			events = []string{"*"}
		}
		responses = append(responses, WebhookResponse{
			ID:     i,
			URL:    t.URL,
			Events: events,
			Signed: t.Secret != "",
		})
	}
	c.JSON(http.StatusOK, responses)
}

// TestWebhook sends one signed test event and reports the outcome. Delivery
// failures are a 200 with success=false.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid webhook ID")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	err = h.sender.Test(ctx, id)
	var se *webhook.StatusError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "Webhook test successful"})
	case errors.Is(err, webhook.ErrUnknownTarget):
		respondError(c, http.StatusNotFound, "Webhook not found")
	case errors.As(err, &se):
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("Webhook returned status %d", se.Code),
		})
	default:
		logx.FromCtx(c.Request.Context()).Warn().Err(err).Int("webhook", id).Msg("webhook test failed")
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to send webhook: %v", err),
		})
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	g := r.Group("/webhooks", admin)
	g.GET("", h.ListWebhooks)
	g.POST("/:id/test", h.TestWebhook)
}
