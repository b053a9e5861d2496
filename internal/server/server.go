package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/billing"
	billingdomain "github.com/stagedesk/stagedesk/internal/billing/domain"
	"github.com/stagedesk/stagedesk/internal/config"
	"github.com/stagedesk/stagedesk/internal/entitlement"
	entitlementdomain "github.com/stagedesk/stagedesk/internal/entitlement/domain"
	"github.com/stagedesk/stagedesk/internal/observability"
	obsmiddleware "github.com/stagedesk/stagedesk/internal/observability/logger"
	obsmetrics "github.com/stagedesk/stagedesk/internal/observability/metrics"
	obstracing "github.com/stagedesk/stagedesk/internal/observability/tracing"
	"github.com/stagedesk/stagedesk/internal/organization"
	organizationdomain "github.com/stagedesk/stagedesk/internal/organization/domain"
	"github.com/stagedesk/stagedesk/internal/plan"
	"github.com/stagedesk/stagedesk/internal/subscription"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
	"github.com/stagedesk/stagedesk/internal/usage"
	usagedomain "github.com/stagedesk/stagedesk/internal/usage/domain"
	"github.com/stagedesk/stagedesk/internal/webhook"
	webhookdomain "github.com/stagedesk/stagedesk/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	config.Module,
	plan.Module,
	organization.Module,
	usage.Module,
	entitlement.Module,
	subscription.Module,
	billing.Module,
	webhook.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	catalog         *plan.CatalogHolder
	organizationSvc organizationdomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	entitlementSvc  entitlementdomain.Service
	billingSvc      billingdomain.Service
	webhookSvc      webhookdomain.Service
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	Catalog         *plan.CatalogHolder
	OrganizationSvc organizationdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	EntitlementSvc  entitlementdomain.Service
	BillingSvc      billingdomain.Service
	WebhookSvc      webhookdomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		catalog:         p.Catalog,
		organizationSvc: p.OrganizationSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		entitlementSvc:  p.EntitlementSvc,
		billingSvc:      p.BillingSvc,
		webhookSvc:      p.WebhookSvc,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Billing Webhooks --------
	api.POST("/billing/webhooks/:provider", s.HandleBillingWebhook)

	// -------- Billing --------
	billing := api.Group("/billing", s.AuthRequired(), s.OrgRequired())
	{
		billing.GET("/plans", s.ListPlans)
		billing.GET("/subscription", s.GetCurrentSubscription)
		billing.GET("/subscriptions", s.ListSubscriptions)
		billing.POST("/subscriptions", s.RequireRole(organizationdomain.RoleOwner), s.CreateSubscription)
		billing.POST("/subscriptions/:id/cancel", s.RequireRole(organizationdomain.RoleOwner), s.CancelSubscription)
		billing.POST("/subscriptions/:id/resume", s.RequireRole(organizationdomain.RoleOwner), s.ResumeSubscription)
		billing.GET("/usage-stats", s.GetUsageStats)
		billing.GET("/invoices", s.ListInvoices)
		billing.GET("/stats", s.RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.GetBillingStats)
	}

	// -------- Usage-limited resources --------
	api.POST("/projects", s.AuthRequired(), s.OrgRequired(), s.CreateProject)
	api.POST("/contacts", s.AuthRequired(), s.OrgRequired(), s.CreateContact)
}
