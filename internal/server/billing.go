package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/stagedesk/stagedesk/internal/billing/domain"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
)

func (s *Server) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.catalog.Current().List()})
}

func (s *Server) GetCurrentSubscription(c *gin.Context) {
	subscription, err := s.subscriptionSvc.Current(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	subscriptions, err := s.subscriptionSvc.ListByOrg(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	subscription, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, subscription)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	subscription, err := s.subscriptionSvc.CancelAtPeriodEnd(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	subscription, err := s.subscriptionSvc.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

func (s *Server) GetUsageStats(c *gin.Context) {
	stats, err := s.entitlementSvc.UsageStats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req billingdomain.ListInvoicesRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, newValidationError("pagination", "invalid_request", "invalid pagination"))
		return
	}

	invoices, err := s.billingSvc.ListInvoices(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func (s *Server) GetBillingStats(c *gin.Context) {
	stats, err := s.billingSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
