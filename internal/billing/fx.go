package billing

import (
	"go.uber.org/fx"

	"github.com/stagedesk/stagedesk/internal/billing/repository"
	"github.com/stagedesk/stagedesk/internal/billing/service"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
