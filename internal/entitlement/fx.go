package entitlement

import (
	"go.uber.org/fx"

	"github.com/stagedesk/stagedesk/internal/entitlement/service"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(service.NewService),
)
