package billing

import (
	"github.com/smallbiznis/mediaforge/internal/billing/repository"
	"github.com/smallbiznis/mediaforge/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.webhook",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
