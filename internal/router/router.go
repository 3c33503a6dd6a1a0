package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kotoba-labs/shiken-backend/internal/config"
	"github.com/kotoba-labs/shiken-backend/internal/handler"
	"github.com/kotoba-labs/shiken-backend/internal/middleware"
	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/kotoba-labs/shiken-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Exam    *handler.ExamHandler
	Attempt *handler.AttemptHandler
	Result  *handler.ResultHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

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

	// Exam payloads carry full question sets; compress responses over 1 KiB.
	router.Use(middleware.Brotli(1024))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for login attempts (10 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
	}

	// ─── 2. Catalog Group (Public) ─────────────────────────────────────
	catalog := router.Group("/api/v1")
	{
		catalog.GET("/exams", handlers.Exam.ListExams)
		catalog.GET("/exams/:exam_id/leaderboard", handlers.Exam.Leaderboard)
	}

	// ─── 3. Attempt Group (JWT) ────────────────────────────────────────
	attemptAPI := router.Group("/api/v1")
	attemptAPI.Use(middleware.RequireAuth(authService))
	{
		attemptAPI.GET("/exams/:exam_id/take", handlers.Attempt.GetExamForTaking)
		attemptAPI.POST("/exams/:exam_id/start", handlers.Attempt.StartAttempt)

		attemptAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		attemptAPI.PUT("/attempts/:attempt_id/progress", handlers.Attempt.SaveProgress)
		attemptAPI.GET("/attempts/:attempt_id/progress", handlers.Attempt.GetProgress)
		attemptAPI.POST("/attempts/:attempt_id/review", handlers.Attempt.MarkForReview)
		attemptAPI.GET("/attempts/:attempt_id/time", handlers.Attempt.RemainingTime)
		attemptAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetResult)

		attemptAPI.GET("/me/attempts", handlers.Attempt.GetHistory)
	}

	// ─── 4. WebSocket Group (WS Auth via query token) ──────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/attempts/:attempt_id/timer", handlers.WS.AttemptTimerStream)
	}

	// ─── 5. Teacher Group (JWT + Role) ─────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacher(authService))
	{
		teacherAPI.GET("/exams/:exam_id/results", handlers.Result.GetExamResults)
		teacherAPI.GET("/exams/:exam_id/results/:user_id", handlers.Result.GetExamResultForUser)
	}

	return router
}
