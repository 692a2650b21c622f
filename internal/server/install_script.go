package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
)

type installScriptRequest struct {
	APIURL string `json:"api_url"`
}

// InstallScripts lets a router fetch its own setup scripts.
func (s *Server) InstallScripts(c *gin.Context) {
	ap := accessPointFrom(c)
	if ap == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	s.renderInstallScripts(c, ap.ID)
}

// AdminInstallScripts renders the setup scripts for any access point so the
// operator can hand them over with a fresh token.
func (s *Server) AdminInstallScripts(c *gin.Context) {
	id, err := parseID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.renderInstallScripts(c, id)
}

func (s *Server) renderInstallScripts(c *gin.Context, id snowflake.ID) {
	var req installScriptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	apiURL := strings.TrimSpace(req.APIURL)
	if apiURL == "" {
		apiURL = s.cfg.APIDomain
	}

	scripts, err := s.catalogSvc.InstallScripts(c.Request.Context(), catalogdomain.InstallScriptRequest{
		AccessPointID: id,
		APIURL:        apiURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": scripts})
}
