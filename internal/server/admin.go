package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/captiva/internal/observability/context"
	"go.uber.org/zap"
)

type revokeDeviceRequest struct {
	MACAddress    string `json:"mac_address"`
	AccessPointID string `json:"access_point_id"`
}

// AdminRequired checks the operator bearer token. An empty configured token
// closes the admin surface.
func (s *Server) AdminRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.AdminToken)
	return func(c *gin.Context) {
		token := bearerToken(c)
		if expected == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "admin", "operator"))
		c.Next()
	}
}

func (s *Server) FleetStatus(c *gin.Context) {
	report, err := s.catalogSvc.FleetStatus(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) RegenerateAccessPointToken(c *gin.Context) {
	id, err := parseID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	token, err := s.catalogSvc.RegenerateToken(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"access_point_id": id.String(),
		"api_token":       token,
	}})
}

func (s *Server) RevokeDevice(c *gin.Context) {
	var req revokeDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	apID, err := parseID("access_point_id", req.AccessPointID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.sessionSvc.Revoke(c.Request.Context(), strings.TrimSpace(req.MACAddress), apID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("device revoked by operator",
		zap.String("access_point_id", apID.String()),
		zap.String("mac_address", req.MACAddress),
	)

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (s *Server) LedgerBalances(c *gin.Context) {
	balances, err := s.ledgerSvc.Balances(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": balances})
}
