package submission

import (
	"github.com/smallbiznis/mediaforge/internal/submission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(service.NewDispatchListener),
	fx.Provide(service.NewService),
)
