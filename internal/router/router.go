package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/opsmon-dev/cmo-ops-api/internal/handler"
	"github.com/opsmon-dev/cmo-ops-api/internal/middleware"
	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	"github.com/opsmon-dev/cmo-ops-api/internal/repository"
	"github.com/opsmon-dev/cmo-ops-api/internal/service"
	"github.com/opsmon-dev/cmo-ops-api/pkg/config"
	"github.com/opsmon-dev/cmo-ops-api/pkg/logger"
	corsmiddleware "github.com/opsmon-dev/cmo-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opsmon-dev/cmo-ops-api/pkg/middleware/requestid"
)

// Params groups everything the router needs.
type Params struct {
	Config   *config.Config
	Logger   *zap.Logger
	Auth     *service.AuthService
	Metrics  *service.MetricsService
	UserRepo *repository.UserRepository

	AuthHandler        *handler.AuthHandler
	UserHandler        *handler.UserHandler
	HandoffHandler     *handler.HandoffHandler
	ReviewHandler      *handler.ReviewHandler
	DetectionHandler   *handler.DetectionHandler
	MaintenanceHandler *handler.MaintenanceHandler
	DashboardHandler   *handler.DashboardHandler
	ReportHandler      *handler.ReportHandler
	MetricsHandler     *handler.MetricsHandler
}

// New assembles the gin engine with all routes and middleware.
func New(p Params) *gin.Engine {
	if p.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(p.Logger))
	r.Use(corsmiddleware.New(p.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(p.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", p.MetricsHandler.Health)
	r.GET("/ready", p.MetricsHandler.Health)
	r.GET("/metrics", p.MetricsHandler.Prometheus)

	if p.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(p.Config.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", p.AuthHandler.Login)
		auth.POST("/refresh", p.AuthHandler.Refresh)
	}

	authorized := api.Group("")
	authorized.Use(middleware.JWT(p.Auth))
	{
		authorized.POST("/auth/logout", p.AuthHandler.Logout)
		authorized.POST("/auth/change-password", p.AuthHandler.ChangePassword)
		authorized.GET("/auth/me", p.AuthHandler.Me)

		adminOnly := middleware.RequireRoles(models.RoleAdmin)

		users := authorized.Group("/users")
		{
			users.GET("/coordinators", p.UserHandler.Coordinators)
			users.GET("", adminOnly, p.UserHandler.List)
			users.POST("", adminOnly, p.UserHandler.Create)
			users.GET("/:id", adminOnly, p.UserHandler.Get)
			users.PUT("/:id", adminOnly, p.UserHandler.Update)
			users.DELETE("/:id", adminOnly, p.UserHandler.Delete)
		}

		notes := authorized.Group("/handoff-notes")
		{
			notes.GET("", p.HandoffHandler.List)
			notes.POST("", p.HandoffHandler.Create)
			notes.GET("/:id", p.HandoffHandler.Get)
			notes.PUT("/:id", middleware.Audit(p.UserRepo, models.AuditActionNoteStatus, "handoff_notes"), p.HandoffHandler.Update)
			notes.DELETE("/:id", middleware.Audit(p.UserRepo, models.AuditActionNoteDelete, "handoff_notes"), p.HandoffHandler.Delete)
			notes.GET("/:id/acknowledgements", p.HandoffHandler.ListAcknowledgements)
			notes.PUT("/:id/acknowledgements", p.HandoffHandler.SetAcknowledgement)
		}

		reviews := authorized.Group("/reviews")
		{
			reviews.GET("", p.ReviewHandler.List)
			reviews.POST("", p.ReviewHandler.Create)
			reviews.GET("/:id", p.ReviewHandler.Get)
			reviews.PUT("/:id", p.ReviewHandler.Update)
			reviews.DELETE("/:id", p.ReviewHandler.Delete)
		}

		detections := authorized.Group("/detections")
		{
			detections.GET("", p.DetectionHandler.List)
			detections.POST("", p.DetectionHandler.Create)
			detections.GET("/:id", p.DetectionHandler.Get)
			detections.PUT("/:id", p.DetectionHandler.Update)
			detections.DELETE("/:id", p.DetectionHandler.Delete)
		}

		maintenance := authorized.Group("/maintenance")
		{
			maintenance.GET("", p.MaintenanceHandler.List)
			maintenance.POST("", p.MaintenanceHandler.Create)
			maintenance.GET("/:id", p.MaintenanceHandler.Get)
			maintenance.PUT("/:id", p.MaintenanceHandler.Update)
			maintenance.DELETE("/:id", p.MaintenanceHandler.Delete)
			maintenance.POST("/:id/evidence", p.MaintenanceHandler.UploadEvidence)
			maintenance.GET("/:id/evidence", p.MaintenanceHandler.ListEvidence)
			maintenance.GET("/evidence/:evidenceId/url", p.MaintenanceHandler.EvidenceURL)
			maintenance.GET("/evidence/:evidenceId/download", p.MaintenanceHandler.DownloadEvidence)
			maintenance.DELETE("/evidence/:evidenceId", adminOnly, p.MaintenanceHandler.DeleteEvidence)
		}

		if p.Config.Dashboard.Enabled && p.DashboardHandler != nil {
			authorized.GET("/dashboard/summary", p.DashboardHandler.Summary)
		}

		if p.Config.Reports.Enabled && p.ReportHandler != nil {
			reports := authorized.Group("/reports")
			{
				reports.POST("/generate", p.ReportHandler.Generate)
				reports.GET("/:id", p.ReportHandler.Status)
			}
			authorized.GET("/export/:token", p.ReportHandler.Download)
		}

		authorized.GET("/metrics/snapshot", adminOnly, p.MetricsHandler.Snapshot)
	}

	return r
}
