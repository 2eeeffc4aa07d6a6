package organization

import (
	"github.com/manyfutures/foresight/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(service.NewService),
)
