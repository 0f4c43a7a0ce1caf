package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	obslogger "github.com/smallbiznis/mediaforge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultInterval   = 5 * time.Second
	defaultRunTimeout = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid dispatch worker config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Providers *config.ProvidersConfigHolder
	Dispatch  dispatchdomain.Service
	Metrics   *obsmetrics.DispatchMetrics `optional:"true"`
}

// Worker periodically pumps every queued-mode provider type so entries left behind by a
// full window or a lost request-path pump still get dispatched.
type Worker struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	providers  *config.ProvidersConfigHolder
	dispatch   dispatchdomain.Service
	metrics    *obsmetrics.DispatchMetrics
	interval   time.Duration
	runTimeout time.Duration
}

func New(p Params) (*Worker, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Providers == nil || p.Dispatch == nil {
		return nil, ErrInvalidConfig
	}
	interval := p.Config.Dispatch.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	runTimeout := p.Config.Dispatch.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Worker{
		log:        p.Log.Named("dispatch.worker").With(zap.String("component", "dispatcher")),
		genID:      p.GenID,
		clock:      p.Clock,
		providers:  p.Providers,
		dispatch:   p.Dispatch,
		metrics:    p.Metrics,
		interval:   interval,
		runTimeout: runTimeout,
	}, nil
}

// QueuedProviderTypes lists the provider types whose submissions go through the queue.
func (w *Worker) QueuedProviderTypes() []string {
	cfg := w.providers.Get()
	out := make([]string, 0, len(cfg.Providers))
	for _, providerType := range w.providers.ProviderTypes() {
		if cfg.Providers[providerType].Mode == config.DispatchModeQueued {
			out = append(out, providerType)
		}
	}
	return out
}

// RunOnce pumps each queued provider type once. A failure for one type does not stop the others.
func (w *Worker) RunOnce(parent context.Context) error {
	var err error
	for _, providerType := range w.QueuedProviderTypes() {
		err = errors.Join(err, w.runPump(parent, providerType))
	}
	return err
}

func (w *Worker) runPump(parent context.Context, providerType string) error {
	ctx, cancel := context.WithTimeout(parent, w.runTimeout)
	defer cancel()

	runID := w.genID.Generate().String()
	log := obslogger.WithContext(ctx, w.log).With(
		zap.String("provider_type", providerType),
		zap.String("run_id", runID),
	)

	result, err := w.dispatch.Pump(ctx, providerType)
	if err == nil {
		if result.Dispatched > 0 || result.Failed > 0 {
			log.Debug("pump run finished",
				zap.Int("dispatched", result.Dispatched),
				zap.Int("failed", result.Failed),
			)
		}
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("pump run timed out",
			zap.Duration("timeout", w.runTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("pump %s: %w", providerType, err)
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	nextRun := w.clock.Now().Add(w.interval)

	w.log.Info("dispatch worker started", zap.Duration("interval", w.interval))
	for {
		runLag := w.clock.Now().Sub(nextRun)
		if runLag > 0 {
			w.metrics.ObserveRunLoopLag(runLag)
		}
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("dispatch run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(w.interval)

		select {
		case <-ctx.Done():
			w.log.Info("dispatch worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Start runs the worker for the lifetime of the fx application.
func Start(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				w.RunForever(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})
}
