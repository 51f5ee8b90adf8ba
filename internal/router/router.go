package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/handler"
	"github.com/stemsi/draftsync/internal/middleware"
	"github.com/stemsi/draftsync/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Draft *handler.DraftHandler
	Exam  *handler.ExamHandler
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the router's collaborators besides the handlers.
type Deps struct {
	Auth        middleware.Authenticator
	SaveLimiter *middleware.RateLimiter
	Health      map[string]HealthCheck
	Logger      zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, deps Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware(), response.RequestLogger(deps.Logger))
	router.Use(middleware.Brotli())

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		checks := gin.H{}
		healthy := true
		for name, check := range deps.Health {
			if err := check(c.Request.Context()); err != nil {
				checks[name] = "down"
				healthy = false
				continue
			}
			checks[name] = "up"
		}
		status, label := http.StatusOK, "ok"
		if !healthy {
			status, label = http.StatusServiceUnavailable, "degraded"
		}
		response.Success(c, status, gin.H{"status": label, "checks": checks})
	})

	// ─── Student Group (JWT + Single Device) ───────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.NoStore(),
		middleware.RequireStudentJWT(deps.Auth),
		middleware.CheckSingleDeviceSession(deps.Auth),
	)
	{
		drafts := studentAPI.Group("/problems/:problem_id/drafts")
		drafts.GET("/latest", handlers.Draft.GetLatest)
		drafts.GET("", handlers.Draft.History)
		if deps.SaveLimiter != nil {
			drafts.POST("", deps.SaveLimiter.Middleware(), handlers.Draft.Save)
		} else {
			drafts.POST("", handlers.Draft.Save)
		}

		exams := studentAPI.Group("/exams/:exam_id")
		exams.POST("/start", handlers.Exam.Start)
		exams.GET("/state", handlers.Exam.State)
		exams.POST("/submit", handlers.Exam.Submit)
	}

	return router
}
