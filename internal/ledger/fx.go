package ledger

import (
	"github.com/manyfutures/foresight/internal/ledger/pricing"
	"github.com/manyfutures/foresight/internal/ledger/service"
	"go.uber.org/fx"
)

func providePricingTable() *pricing.Table {
	return pricing.NewTable(nil)
}

var Module = fx.Module("ledger.service",
	fx.Provide(providePricingTable),
	fx.Provide(service.NewService),
)
