package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/handlers"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/middleware"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/app"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func corsConfig(origins string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	var allowed []string
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed = append(allowed, origin)
		}
	}
	// 通配符不能和 credentials 同时使用
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
		cfg.AllowCredentials = true
	}
	return cfg
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(a *app.App) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestLogger(a.Logger.Named("http")),
		middleware.Metrics(),
		gin.Recovery(),
		cors.New(corsConfig(a.Config.CORSOrigins)),
	)

	authHandler := handlers.NewAuthHandler(a.Users, a.Identity, a.Auth.JWTManager, a.Logs)
	oauthHandler := handlers.NewOAuthHandler(a.OAuth, a.Accounts)
	emailHandler := handlers.NewEmailHandler(a.Emails, a.Workflow)
	approvalHandler := handlers.NewApprovalHandler(a.Tasks)
	userHandler := handlers.NewUserHandler(a.Users, a.Accounts, a.Logs)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		if a.Config.RequireAPIKey {
			api.Use(middleware.APIKeyMiddleware(a.Auth.APIKeyManager))
		}

		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/google", authHandler.GoogleLogin)
		}

		// the callback is reached through a browser redirect and carries no token
		oauth := api.Group("/oauth")
		{
			oauth.GET("/config", oauthHandler.GetOAuthConfig)
			oauth.GET("/google/callback", oauthHandler.GoogleCallback)
		}

		protected := api.Group("")
		protected.Use(middleware.JWTMiddleware(a.Auth.JWTManager))
		{
			protected.POST("/auth/refresh", authHandler.RefreshToken)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.GET("/auth/me", authHandler.GetCurrentUser)

			protected.GET("/oauth/google/auth", oauthHandler.GetGoogleAuthURL)

			userGroup := protected.Group("/user")
			{
				userGroup.GET("/profile", userHandler.GetProfile)
				userGroup.PUT("/profile", userHandler.UpdateProfile)
				userGroup.PUT("/password", userHandler.ChangePassword)
				userGroup.DELETE("/google", userHandler.DisconnectGoogle)
				userGroup.GET("/logs", userHandler.GetLogs)
			}

			emails := protected.Group("/emails")
			{
				emails.GET("", emailHandler.ListEmails)
				emails.POST("/sync", emailHandler.SyncEmails)
				emails.GET("/:id", emailHandler.GetEmail)
				emails.POST("/:id/process", emailHandler.ProcessEmail)
				emails.POST("/:id/approve", emailHandler.ApproveEmail)
				emails.POST("/:id/reject", emailHandler.RejectEmail)
			}

			approvals := protected.Group("/approvals")
			{
				approvals.GET("", approvalHandler.ListApprovals)
				approvals.GET("/:id", approvalHandler.GetApproval)
				approvals.POST("/:id/approve", approvalHandler.Approve)
				approvals.POST("/:id/reject", approvalHandler.Reject)
			}

			protected.GET("/tasks", approvalHandler.ListTasks)
		}
	}

	return router
}
