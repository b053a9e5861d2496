package organization

import (
	"github.com/stagedesk/stagedesk/internal/organization/repository"
	"github.com/stagedesk/stagedesk/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
