package usage

import (
	"github.com/stagedesk/stagedesk/internal/usage/repository"
	"github.com/stagedesk/stagedesk/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
