package providers

import (
	"github.com/smallbiznis/mediaforge/internal/providers/adapters"
	"github.com/smallbiznis/mediaforge/internal/providers/adapters/audio"
	"github.com/smallbiznis/mediaforge/internal/providers/adapters/video"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"go.uber.org/fx"
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(audio.NewFactory(), video.NewFactory())
}

var Module = fx.Module("providers",
	fx.Provide(newRegistry),
	fx.Provide(
		fx.Annotate(NewCatalog, fx.As(new(providerdomain.Catalog))),
	),
)
