package project

import (
	"github.com/manyfutures/foresight/internal/project/service"
	"go.uber.org/fx"
)

var Module = fx.Module("project.service",
	fx.Provide(service.NewService),
)
