package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
	obscontext "github.com/smallbiznis/captiva/internal/observability/context"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
)

const (
	HeaderAccessPointID = "X-Access-Point-ID"

	contextAccessPointKey = "access_point"
	defaultSalesLimit     = 20
	maxSalesLimit         = 200
)

type presenceRequest struct {
	MACAddress string `json:"mac_address"`
	Event      string `json:"event"`
}

type heartbeatRequest struct {
	Status           string `json:"status"`
	ConnectedDevices int    `json:"connected_devices"`
}

type recentSalesRequest struct {
	Limit int `json:"limit"`
}

// AccessPointRequired authenticates a router by its id header and its
// per-device bearer token.
func (s *Server) AccessPointRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		rawID := strings.TrimSpace(c.GetHeader(HeaderAccessPointID))
		if token == "" || rawID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		id, err := snowflake.ParseString(rawID)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ap, err := s.catalogSvc.AuthenticateAccessPoint(c.Request.Context(), id, token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithAccessPointID(c.Request.Context(), ap.ID.String())
		ctx = obscontext.WithActor(ctx, "access_point", ap.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAccessPointKey, ap)
		c.Next()
	}
}

func accessPointFrom(c *gin.Context) *catalogdomain.AccessPoint {
	value, ok := c.Get(contextAccessPointKey)
	if !ok {
		return nil
	}
	ap, _ := value.(*catalogdomain.AccessPoint)
	return ap
}

func (s *Server) OnPresence(c *gin.Context) {
	ap := accessPointFrom(c)
	if ap == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.sessionSvc.OnPresence(c.Request.Context(), sessiondomain.PresenceRequest{
		MACAddress:    strings.TrimSpace(req.MACAddress),
		AccessPointID: ap.ID,
		Event:         sessiondomain.PresenceEvent(strings.ToLower(strings.TrimSpace(req.Event))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) Heartbeat(c *gin.Context) {
	ap := accessPointFrom(c)
	if ap == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.catalogSvc.Heartbeat(c.Request.Context(), catalogdomain.HeartbeatRequest{
		AccessPointID:    ap.ID,
		ReportedStatus:   req.Status,
		ConnectedDevices: req.ConnectedDevices,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) RecentSales(c *gin.Context) {
	ap := accessPointFrom(c)
	if ap == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var req recentSalesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSalesLimit
	}
	if limit > maxSalesLimit {
		limit = maxSalesLimit
	}

	report, err := s.paymentSvc.RecentSales(c.Request.Context(), ap.ID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
