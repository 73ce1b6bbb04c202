package api

import (
	"stash/internal/server/auth"
	"stash/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, sessions *auth.SessionManager, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on the login endpoint only
	loginLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Unauthenticated surface
	e.GET("/health", handler.HandleHealth)
	e.POST("/api/login", handler.HandleLogin, loginLimiter.Middleware())

	// Everything else requires a valid session token
	authed := SessionAuth(sessions)

	api := e.Group("/api", authed)
	api.POST("/logout", handler.HandleLogout)
	api.POST("/password", handler.HandleChangePassword)

	api.GET("/files", handler.HandleListFiles)
	api.POST("/upload", handler.HandleUpload)
	api.DELETE("/files/:name", handler.HandleDelete)
	api.POST("/files/bulk-delete", handler.HandleBulkDelete)
	api.POST("/files/bulk-download", handler.HandleBulkDownload)
	api.POST("/files/:name/share", handler.HandleSetShared)

	api.GET("/admin/users", handler.HandleListUsers)
	api.POST("/admin/users", handler.HandleCreateUser)
	api.DELETE("/admin/users/:username", handler.HandleDeleteUser)
	api.GET("/admin/stats", handler.HandleAdminStats)

	// Content delivery
	files := e.Group("/files", authed)
	files.GET("/raw/:name", handler.HandleView)
	files.GET("/:name", handler.HandleDownload)

	return e
}
