package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/api/middleware"
	"erasmusjourney/internal/auth"
	"erasmusjourney/internal/config"
)

// Dependencies are constructed once by cmd/api and shared by every handler.
// Queue, Images and Scanner are optional.
type Dependencies struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       redis.UniversalClient
	AuthService *auth.AuthService
	Gate        *auth.EmailGate
	Queue       TaskEnqueuer
	Images      ObjectStore
	Scanner     VirusScanner
	Logger      *slog.Logger
}

// RegisterRoutes attaches every endpoint under /api.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	stats := aggregate.NewService(deps.DB)
	costsCache := aggregate.NewCostsCache(deps.Redis, cfg.Cache.CostsTTL)

	authHandler := NewAuthHandler(deps.DB, deps.AuthService, deps.Gate, deps.Redis, deps.Logger, cfg.Auth)
	formHandler := NewFormHandler(deps.DB, stats, costsCache, deps.Logger)
	destinationHandler := NewDestinationHandler(deps.DB, stats, costsCache, deps.Images, cfg.App.DefaultDestinationImage, deps.Logger)
	universityHandler := NewUniversityHandler(deps.DB, stats)
	adminHandler := NewAdminHandler(deps.DB, stats, costsCache, deps.Queue, deps.Images, deps.Scanner, cfg.App.DefaultDestinationImage, deps.Logger)
	wsHandler := NewWsHandler(deps.Redis, deps.AuthService, deps.Logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.AuthService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	router.MaxMultipartMemory = maxDestinationImageBytes + 1<<20

	api := router.Group("/api")
	{
		api.GET("/ws", wsHandler.HandleConnection)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
			authGroup.GET("/me", authMiddleware, authHandler.Me)
		}

		destinations := api.Group("/destinations")
		{
			destinations.GET("", destinationHandler.List)
			destinations.GET("/generated", destinationHandler.Generated)
			destinations.GET("/costs", destinationHandler.Costs)
			destinations.GET("/popular", destinationHandler.Popular)
			destinations.GET("/:id", destinationHandler.Detail)
		}
		api.GET("/accommodations/platforms", destinationHandler.Platforms)

		universities := api.Group("/universities")
		{
			universities.GET("/search", universityHandler.Search)
			universities.GET("/stats", universityHandler.Stats)
			universities.GET("/:id/agreements", universityHandler.Agreements)
		}

		formGroup := api.Group("/forms")
		formGroup.Use(authMiddleware, passwordGate)
		{
			formGroup.POST("", formHandler.Submit)
			formGroup.GET("", formHandler.List)
			formGroup.GET("/:id", formHandler.Get)
			formGroup.PUT("/:id", formHandler.Update)
			formGroup.GET("/:id/progress", formHandler.Progress)
		}

		admin := api.Group("/admin")
		admin.Use(authMiddleware, passwordGate, middleware.AdminMiddleware())
		{
			admin.GET("/submissions", adminHandler.ListSubmissions)
			admin.PATCH("/submissions/:id", adminHandler.UpdateSubmission)
			admin.DELETE("/submissions/:id", adminHandler.DeleteSubmission)

			admin.GET("/course-exchanges", adminHandler.ListCourseExchanges)
			admin.PATCH("/course-exchanges/:id", adminHandler.UpdateCourseExchange)
			admin.DELETE("/course-exchanges/:id", adminHandler.DeleteCourseExchange)

			admin.GET("/accommodations", adminHandler.ListAccommodations)
			admin.PATCH("/accommodations/:id", adminHandler.UpdateAccommodation)
			admin.DELETE("/accommodations/:id", adminHandler.DeleteAccommodation)

			admin.GET("/destinations", adminHandler.ListDestinations)
			admin.POST("/destinations", adminHandler.CreateDestination)
			admin.POST("/destinations/refresh", adminHandler.RefreshDestinations)
			admin.PATCH("/destinations/:id", adminHandler.UpdateDestination)
			admin.DELETE("/destinations/:id", adminHandler.DeleteDestination)
			admin.POST("/destinations/:id/image", adminHandler.UploadDestinationImage)

			admin.PATCH("/users/:id/role", adminHandler.UpdateUserRole)
		}
	}
}
