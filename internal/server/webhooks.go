package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/stagedesk/stagedesk/internal/webhook/domain"
)

// HandleBillingWebhook ingests provider webhooks. Redeliveries, ignored
// event types and malformed payloads are acknowledged with 200 so the
// provider stops retrying; transient failures return 500 to request a
// retry.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.webhookSvc.Ingest(c.Request.Context(), c.Param("provider"), payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, webhookdomain.ErrEventAlreadyProcessed),
		errors.Is(err, webhookdomain.ErrEventIgnored),
		errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		// Signed-but-malformed deliveries can never become processable;
		// a non-2xx would have the provider retry them forever.
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, webhookdomain.ErrProviderNotFound):
		AbortWithError(c, ErrNotFound)
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		AbortWithError(c, newValidationError("signature", err.Error(), "invalid webhook signature"))
	default:
		AbortWithError(c, ErrInternal)
	}
}
