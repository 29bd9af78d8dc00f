package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/mivvo/expertiz/internal/auth"
	"github.com/mivvo/expertiz/internal/auth/token"
	"github.com/mivvo/expertiz/internal/authorization"
	"github.com/mivvo/expertiz/internal/config"
	"github.com/mivvo/expertiz/internal/credit"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	"github.com/mivvo/expertiz/internal/notification"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	"github.com/mivvo/expertiz/internal/observability"
	obsmiddleware "github.com/mivvo/expertiz/internal/observability/logger"
	obsmetrics "github.com/mivvo/expertiz/internal/observability/metrics"
	obstracing "github.com/mivvo/expertiz/internal/observability/tracing"
	"github.com/mivvo/expertiz/internal/providers"
	"github.com/mivvo/expertiz/internal/providers/pdf"
	"github.com/mivvo/expertiz/internal/ratelimit"
	"github.com/mivvo/expertiz/internal/report"
	reportdomain "github.com/mivvo/expertiz/internal/report/domain"
	"github.com/mivvo/expertiz/internal/user"
	userdomain "github.com/mivvo/expertiz/internal/user/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	auth.Module,
	providers.Module,
	ratelimit.Module,
	user.Module,
	credit.Module,
	notification.Module,
	report.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	genID  *snowflake.Node

	tokens          *token.Manager
	authzSvc        authorization.Service
	userSvc         userdomain.Service
	creditSvc       creditdomain.Service
	reportSvc       reportdomain.Service
	notificationSvc notificationdomain.Service
	pdfProvider     pdf.Provider
	guard           *ratelimit.AnalyzeGuard
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	Tokens          *token.Manager
	AuthzSvc        authorization.Service
	UserSvc         userdomain.Service
	CreditSvc       creditdomain.Service
	ReportSvc       reportdomain.Service
	NotificationSvc notificationdomain.Service
	PDFProvider     pdf.Provider
	Guard           *ratelimit.AnalyzeGuard `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		tokens:          p.Tokens,
		authzSvc:        p.AuthzSvc,
		userSvc:         p.UserSvc,
		creditSvc:       p.CreditSvc,
		reportSvc:       p.ReportSvc,
		notificationSvc: p.NotificationSvc,
		pdfProvider:     p.PDFProvider,
		guard:           p.Guard,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerAuthRoutes() {
	authGroup := s.engine.Group("/v1/auth")
	authGroup.POST("/register", s.Register)
	authGroup.POST("/login", s.Login)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(s.AuthRequired())

	api.GET("/me", s.Me)

	reports := api.Group("/reports")
	reports.POST("", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportCreate), s.StartReport)
	reports.GET("", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportView), s.ListReports)
	reports.GET("/:id", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportView), s.GetReport)
	reports.GET("/:id/status", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportView), s.ReportStatus)
	reports.GET("/:id/pdf", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportView), s.ReportPDF)
	reports.POST("/:id/media", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportCreate), s.UploadMedia)
	reports.POST("/:id/analyze", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportAnalyze), s.AnalyzeReport)
	reports.DELETE("/:id", s.RequirePermission(authorization.ObjectReport, authorization.ActionReportDelete), s.DeleteReport)

	credits := api.Group("/credits")
	credits.GET("", s.RequirePermission(authorization.ObjectCredit, authorization.ActionCreditView), s.CreditSummary)
	credits.POST("/purchase", s.RequirePermission(authorization.ObjectCredit, authorization.ActionCreditPurchase), s.PurchaseCredits)

	notifications := api.Group("/notifications")
	notifications.GET("", s.RequirePermission(authorization.ObjectNotification, authorization.ActionNotificationView), s.ListNotifications)
	notifications.POST("/:id/read", s.RequirePermission(authorization.ObjectNotification, authorization.ActionNotificationManage), s.MarkNotificationRead)
	notifications.POST("/read-all", s.RequirePermission(authorization.ObjectNotification, authorization.ActionNotificationManage), s.MarkAllNotificationsRead)
	notifications.DELETE("/:id", s.RequirePermission(authorization.ObjectNotification, authorization.ActionNotificationManage), s.DeleteNotification)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.Use(s.AuthRequired())
	admin.POST("/notifications/broadcast",
		s.RequirePermission(authorization.ObjectNotification, authorization.ActionNotificationBroadcast),
		s.BroadcastNotification,
	)
}
