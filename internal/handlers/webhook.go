// Package handlers contains the Echo route handlers.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/conversation"
)

// ackResponse is the body providers expect on a handled delivery.
type ackResponse struct {
	Success bool `json:"success"`
}

// WebhookHandler receives provider push deliveries and feeds them through the
// conversation processor. Everything except an authentication failure is
// acked with 200: providers retry aggressively on non-2xx, and an
// unparseable body would just cause a backoff storm.
type WebhookHandler struct {
	registry  *channel.Registry
	processor *conversation.Processor
	logger    *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, registry *channel.Registry, processor *conversation.Processor) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		registry:  registry,
		processor: processor,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts POST /webhooks/:provider.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/:provider", h.Receive)
}

// Receive handles one webhook delivery synchronously: verify, parse, process
// each extracted message, ack.
func (h *WebhookHandler) Receive(c echo.Context) error {
	provider, err := channel.ParseProvider(c.Param("provider"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	adapter, ok := h.registry.Get(provider)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel not configured: "+string(provider))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Warn("webhook body read failed",
			slog.String("provider", string(provider)),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusOK, ackResponse{Success: true})
	}

	switch verifyErr := adapter.VerifyWebhook(c.Request().Header, body); {
	case verifyErr == nil:
	case errors.Is(verifyErr, channel.ErrAuthDisabled):
		h.logger.Warn("webhook authentication disabled",
			slog.String("provider", string(provider)),
		)
	default:
		// Non-2xx keeps misconfigured senders visible in monitoring.
		h.logger.Warn("webhook verification failed",
			slog.String("provider", string(provider)),
			slog.Any("error", verifyErr),
		)
		return echo.NewHTTPError(http.StatusUnauthorized, "webhook verification failed")
	}

	messages, err := adapter.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("webhook payload unparseable, acking without processing",
			slog.String("provider", string(provider)),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusOK, ackResponse{Success: true})
	}

	ctx := c.Request().Context()
	for _, msg := range messages {
		if err := h.processor.HandleInbound(ctx, adapter, msg); err != nil {
			h.logger.Error("inbound message processing failed",
				slog.String("provider", string(provider)),
				slog.String("message_id", msg.ExternalMessageID),
				slog.Any("error", err),
			)
		}
	}
	return c.JSON(http.StatusOK, ackResponse{Success: true})
}
