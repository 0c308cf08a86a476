package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/invoice/autopay"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	"github.com/smallbiznis/gigledger/internal/notification/gateway"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/smallbiznis/gigledger/internal/observability"
	obslogger "github.com/smallbiznis/gigledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gigledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gigledger/internal/observability/tracing"
	"github.com/smallbiznis/gigledger/internal/ratelimit"
	"github.com/smallbiznis/gigledger/internal/reconciliation"
	"github.com/smallbiznis/gigledger/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	r.Use(ActorContext())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.listen_failed", zap.String("addr", cfg.HTTPAddr), zap.Error(err))
				}
			}()
			log.Info("http.started", zap.String("addr", cfg.HTTPAddr))
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
	engine     *gin.Engine
	cfg        config.Config
	clock      clock.Clock
	bus        *eventbus.Bus
	limiter    *ratelimit.PublishLimiter
	store      *store.Store
	gateway    *gateway.Gateway
	invoiceSvc invoicedomain.Service
	autopay    *autopay.Service
	reconciler *reconciliation.Job
	scheduler  *scheduler.Scheduler
	metrics    *obsmetrics.DomainMetrics
	log        *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Clock      clock.Clock
	Bus        *eventbus.Bus
	Store      *store.Store
	Gateway    *gateway.Gateway
	InvoiceSvc invoicedomain.Service
	Autopay    *autopay.Service
	Reconciler *reconciliation.Job
	Log        *zap.Logger

	Limiter   *ratelimit.PublishLimiter `optional:"true"`
	Scheduler *scheduler.Scheduler      `optional:"true"`
	Metrics   *obsmetrics.DomainMetrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		clock:      p.Clock,
		bus:        p.Bus,
		limiter:    p.Limiter,
		store:      p.Store,
		gateway:    p.Gateway,
		invoiceSvc: p.InvoiceSvc,
		autopay:    p.Autopay,
		reconciler: p.Reconciler,
		scheduler:  p.Scheduler,
		metrics:    p.Metrics,
		log:        p.Log.Named("server"),
	}

	svc.registerAPIRoutes()
	svc.registerOpsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/events/:name", s.PublishRateLimit(), s.PublishEvent)

	users := api.Group("/users/:id")
	{
		users.GET("/notifications", s.ListUserNotifications)
		users.GET("/notifications/unread-count", s.UnreadCount)
	}

	notifications := api.Group("/notifications/:id")
	{
		notifications.GET("", s.GetNotification)
		notifications.POST("/read", s.MarkNotificationRead)
		notifications.POST("/action", s.MarkNotificationActioned)
	}

	api.GET("/projects/:id/notifications", s.ListProjectNotifications)

	invoices := api.Group("/invoices")
	{
		invoices.GET("", s.ListInvoices)
		invoices.POST("", s.CreateInvoice)
		invoices.GET("/:number", s.GetInvoice)
		invoices.POST("/:number/charge", s.ChargeInvoice)
		invoices.POST("/:number/retry-payment", s.RetryInvoicePayment)
		invoices.POST("/:number/transition", s.TransitionInvoice)
	}
}

func (s *Server) registerOpsRoutes() {
	api := s.engine.Group("/api")

	api.GET("/notification-stage", s.GetNotificationStage)
	api.POST("/reconciliation/run", s.RunReconciliation)
	api.GET("/reconciliation/runs/:id", s.GetReconciliationRun)
	api.POST("/autopay/sweep", s.SweepAutopay)
	api.POST("/scheduler/jobs/:name/run", s.RunSchedulerJob)
}
