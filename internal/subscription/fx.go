package subscription

import (
	"github.com/stagedesk/stagedesk/internal/subscription/repository"
	"github.com/stagedesk/stagedesk/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
