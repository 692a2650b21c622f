package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/captiva/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleGatewayWebhook acknowledges every delivery. Failures are logged and
// left to polling and the startup sweep.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	log := obslogger.FromContext(c.Request.Context()).With(zap.String("provider", provider))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn("webhook body unreadable", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if err := s.webhookSvc.HandleGatewayCallback(c.Request.Context(), provider, payload, c.Request.Header); err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature):
			log.Warn("webhook signature rejected")
		case errors.Is(err, paymentdomain.ErrEventIgnored):
			log.Debug("webhook event ignored")
		default:
			log.Warn("webhook not processed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) WebhookReachability(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"provider": strings.TrimSpace(c.Param("provider")),
	})
}
