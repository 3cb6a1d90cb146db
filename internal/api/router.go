package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/scrapewatch/internal/api/handler"
	"github.com/timmy/scrapewatch/internal/api/middleware"
	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/logger"
	"github.com/timmy/scrapewatch/internal/ratelimit"
	"github.com/timmy/scrapewatch/internal/service"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Tasks    *service.TaskService
	Settings *service.SettingsService
	Trigger  handler.RunTrigger
	Limiter  *ratelimit.Limiter
	DB       handler.Pinger
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, cfg *config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB)
	taskHandler := handler.NewTaskHandler(deps.Tasks)
	instructionHandler := handler.NewInstructionHandler(deps.Tasks, deps.Trigger)
	settingsHandler := handler.NewSettingsHandler(deps.Settings)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1", middleware.RequireUser())
	{
		// Review queue
		v1.POST("/tasks", middleware.RateLimit(deps.Limiter, "submit"), taskHandler.Submit)
		v1.GET("/tasks", taskHandler.List)
		v1.GET("/tasks/:id", taskHandler.Get)
		v1.POST("/tasks/:id/approve", taskHandler.Approve)
		v1.POST("/tasks/:id/reject", taskHandler.Reject)

		// Instructions
		v1.GET("/instructions", instructionHandler.List)
		v1.GET("/instructions/:id", instructionHandler.Get)
		v1.POST("/instructions/:id/pause", instructionHandler.Pause)
		v1.POST("/instructions/:id/resume", instructionHandler.Resume)
		v1.POST("/instructions/:id/run", middleware.RateLimit(deps.Limiter, "run"), instructionHandler.RunNow)
		v1.DELETE("/instructions/:id", instructionHandler.Delete)
		v1.GET("/instructions/:id/runs", instructionHandler.Runs)
		v1.GET("/instructions/:id/changes", instructionHandler.Changes)

		// Settings
		v1.GET("/settings/notifications", settingsHandler.Get)
		v1.PUT("/settings/notifications", settingsHandler.Put)
	}

	return r
}
