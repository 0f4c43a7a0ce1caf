package dispatch

import (
	"github.com/smallbiznis/mediaforge/internal/dispatch/repository"
	"github.com/smallbiznis/mediaforge/internal/dispatch/service"
	"github.com/smallbiznis/mediaforge/internal/dispatch/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

// WorkerModule runs the periodic pump loop. Only the dispatcher process installs it.
var WorkerModule = fx.Module("dispatch.worker",
	fx.Provide(worker.New),
	fx.Invoke(worker.Start),
)
