package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
)

type listPlansRequest struct {
	AccessPointID string `json:"access_point_id"`
}

type createIntentRequest struct {
	MACAddress    string `json:"mac_address"`
	PlanID        string `json:"plan_id"`
	AccessPointID string `json:"access_point_id"`
}

type sessionStatusRequest struct {
	MACAddress    string `json:"mac_address"`
	AccessPointID string `json:"access_point_id"`
}

func (s *Server) ListPlans(c *gin.Context) {
	var req listPlansRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	apID, err := parseID("access_point_id", req.AccessPointID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plans, err := s.catalogSvc.ListPlans(c.Request.Context(), apID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := parseID("plan_id", req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	apID, err := parseID("access_point_id", req.AccessPointID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.paymentSvc.CreatePaymentIntent(c.Request.Context(), paymentdomain.CreateIntentRequest{
		MACAddress:    strings.TrimSpace(req.MACAddress),
		PlanID:        planID,
		AccessPointID: apID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// GetPaymentIntent is the portal's polling endpoint. It may consult the
// gateway and apply the observed outcome.
func (s *Server) GetPaymentIntent(c *gin.Context) {
	id, err := parseID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.paymentSvc.CheckStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetSessionStatus(c *gin.Context) {
	var req sessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	apID, err := parseID("access_point_id", req.AccessPointID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.sessionSvc.GetSessionStatus(c.Request.Context(), strings.TrimSpace(req.MACAddress), apID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func parseID(field, raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError(field, "required", field+" is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return id, nil
}
