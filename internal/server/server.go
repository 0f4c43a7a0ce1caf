package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/mediaforge/internal/billing"
	billingdomain "github.com/smallbiznis/mediaforge/internal/billing/domain"
	"github.com/smallbiznis/mediaforge/internal/config"
	"github.com/smallbiznis/mediaforge/internal/dispatch"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	"github.com/smallbiznis/mediaforge/internal/generation"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	"github.com/smallbiznis/mediaforge/internal/observability"
	obsmiddleware "github.com/smallbiznis/mediaforge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	obstracing "github.com/smallbiznis/mediaforge/internal/observability/tracing"
	"github.com/smallbiznis/mediaforge/internal/providers"
	"github.com/smallbiznis/mediaforge/internal/ratelimit"
	"github.com/smallbiznis/mediaforge/internal/refund"
	"github.com/smallbiznis/mediaforge/internal/subject"
	"github.com/smallbiznis/mediaforge/internal/submission"
	submissiondomain "github.com/smallbiznis/mediaforge/internal/submission/domain"
	"github.com/smallbiznis/mediaforge/internal/usage"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	ratelimit.Module,
	providers.Module,
	usage.Module,
	subject.Module,
	refund.Module,
	generation.Module,
	dispatch.Module,
	submission.Module,
	billing.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterWebhookRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	submissions submissiondomain.Service
	generations generationdomain.Service
	usagesvc    usagedomain.Service
	dispatchsvc dispatchdomain.Service
	billingsvc  billingdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Submissions submissiondomain.Service
	Generations generationdomain.Service
	Usage       usagedomain.Service
	Dispatch    dispatchdomain.Service
	Billing     billingdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		submissions: p.Submissions,
		generations: p.Generations,
		usagesvc:    p.Usage,
		dispatchsvc: p.Dispatch,
		billingsvc:  p.Billing,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api", Correlation())

	// -------- Generations --------
	api.POST("/generations", OwnerRequired(), s.CreateGeneration)
	api.GET("/generations", OwnerRequired(), s.ListGenerations)
	api.GET("/generations/:taskId", OwnerRequired(), s.GetGeneration)

	// -------- Usage --------
	api.GET("/subscriptions/:id/usage", OwnerRequired(), s.GetUsage)

	// -------- Dispatch --------
	api.POST("/dispatch/:providerType/pump", s.PumpDispatch)
}

func (s *Server) RegisterWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks", Correlation())

	webhooks.POST("/generation/:providerType", s.HandleGenerationWebhook)
	webhooks.POST("/billing", s.HandleBillingWebhook)
}
