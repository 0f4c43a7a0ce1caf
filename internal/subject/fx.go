package subject

import (
	"github.com/smallbiznis/mediaforge/internal/subject/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subject.service",
	fx.Provide(service.NewService),
)
