package episode

import (
	"github.com/manyfutures/foresight/internal/episode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("episode.service",
	fx.Provide(service.NewService),
)
