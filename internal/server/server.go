package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/objectstore"
	"github.com/smallbiznis/signflow/internal/observability"
	obslogger "github.com/smallbiznis/signflow/internal/observability/logger"
	obstracing "github.com/smallbiznis/signflow/internal/observability/tracing"
	"github.com/smallbiznis/signflow/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ops.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, apiMetrics *telemetry.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(MetricsMiddleware(apiMetrics))
	r.Use(ErrorHandlingMiddleware())
	return r
}

type ginParams struct {
	fx.In

	ObsCfg     observability.Config
	APIMetrics *telemetry.Metrics `optional:"true"`
}

func registerGin(p ginParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.APIMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.OpsAddr)
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("ops server stopped", zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server exposes health checks, metrics and signed object downloads. Envelope
// operations are not served over HTTP.
type Server struct {
	engine   *gin.Engine
	db       *gorm.DB
	redis    *redis.Client
	objects  *objectstore.GormStore
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	DB       *gorm.DB
	Log      *zap.Logger
	Objects  *objectstore.GormStore
	Gatherer prometheus.Gatherer `optional:"true"`
	Redis    *redis.Client       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	svc := &Server{
		engine:   p.Gin,
		db:       p.DB,
		redis:    p.Redis,
		objects:  p.Objects,
		gatherer: gatherer,
		log:      p.Log.Named("ops.server"),
	}

	svc.registerHealthRoutes()
	svc.registerObjectRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/readyz", s.Readyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

func (s *Server) registerObjectRoutes() {
	s.engine.GET("/objects/:token", s.DownloadObject)
	s.engine.HEAD("/objects/:token", s.DownloadObject)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
