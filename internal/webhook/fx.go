package webhook

import (
	"go.uber.org/fx"

	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/config"
	"github.com/stagedesk/stagedesk/internal/webhook/adapters"
	"github.com/stagedesk/stagedesk/internal/webhook/adapters/stripe"
	"github.com/stagedesk/stagedesk/internal/webhook/repository"
	"github.com/stagedesk/stagedesk/internal/webhook/service"
)

func provideRegistry(cfg config.Config, clk clock.Clock) *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewAdapter(cfg.BillingWebhookSecret, cfg.WebhookTolerance, clk),
	)
}

var Module = fx.Module("webhook.service",
	fx.Provide(provideRegistry),
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
