package notify

import (
	"github.com/manyfutures/foresight/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewDispatcher picks the webhook dispatcher when a URL is configured and
// falls back to structured logs otherwise.
func NewDispatcher(log *zap.Logger, cfg config.Config) Dispatcher {
	if cfg.NotifyWebhookURL != "" {
		return NewWebhookDispatcher(log, cfg.NotifyWebhookURL)
	}
	return NewLogDispatcher(log)
}

var Module = fx.Module("notify",
	fx.Provide(NewDispatcher),
)
