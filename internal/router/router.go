package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quizdesk/quizdesk-backend/internal/config"
	"github.com/quizdesk/quizdesk-backend/internal/handler"
	"github.com/quizdesk/quizdesk-backend/internal/middleware"
	"github.com/quizdesk/quizdesk-backend/internal/response"
	"github.com/quizdesk/quizdesk-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	Quiz    *handler.QuizHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiters: session starts are the abuse-prone entry point, and
	// login gets its own bucket.
	startLimiter := middleware.NewRateLimiter(10, time.Minute)
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/admin/login", handlers.Auth.AdminLogin)
	}

	// ─── 2. Session Group (Token-Addressed, Public) ────────────────────
	// The session token itself is the capability; everything else is
	// derived from it server-side.
	sessions := router.Group("/api/v1/sessions")
	{
		sessions.POST("", startLimiter.Middleware(), handlers.Session.Start)
		sessions.GET("/:token", handlers.Session.GetStatus)
		sessions.POST("/:token/pause", handlers.Session.Pause)
		sessions.POST("/:token/resume", handlers.Session.Resume)
		sessions.POST("/:token/complete", handlers.Session.Complete)
		sessions.PUT("/:token/time", handlers.Session.UpdateTime)
		sessions.PUT("/:token/answers", handlers.Session.SaveAnswers)
	}

	// ─── 3. WebSocket Group (Admin WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/quizzes/:id/monitor", handlers.Monitor.MonitorQuizStream)
	}

	// ─── 4. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/quizzes", handlers.Quiz.ListQuizzes)
		adminAPI.POST("/quizzes", handlers.Quiz.CreateQuiz)
		adminAPI.GET("/quizzes/:id", handlers.Quiz.GetQuiz)
		adminAPI.PUT("/quizzes/:id", handlers.Quiz.UpdateQuiz)
		adminAPI.DELETE("/quizzes/:id", handlers.Quiz.DeleteQuiz)
		adminAPI.POST("/quizzes/:id/publish", handlers.Quiz.PublishQuiz)
		adminAPI.POST("/quizzes/:id/archive", handlers.Quiz.ArchiveQuiz)
		adminAPI.GET("/quizzes/:id/results", handlers.Quiz.GetResults)
	}

	return router
}
