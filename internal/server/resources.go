package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stagedesk/stagedesk/internal/plan"
	usagedomain "github.com/stagedesk/stagedesk/internal/usage/domain"
)

// Resource creation checks the plan limit first. The check is advisory:
// usage is counted at check time, not reserved.

func (s *Server) CreateProject(c *gin.Context) {
	var req usagedomain.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	if !s.allowResource(c, plan.ResourceProjects) {
		return
	}

	project, err := s.usageSvc.CreateProject(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) CreateContact(c *gin.Context) {
	var req usagedomain.CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	if !s.allowResource(c, plan.ResourceContacts) {
		return
	}

	contact, err := s.usageSvc.CreateContact(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (s *Server) allowResource(c *gin.Context, resource plan.Resource) bool {
	decision, err := s.entitlementSvc.CanPerform(c.Request.Context(), resource)
	if err != nil {
		AbortWithError(c, err)
		return false
	}
	if !decision.Allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: errorPayload{
			Type:    "limit_reached",
			Message: decision.Reason,
		}})
		return false
	}
	return true
}
