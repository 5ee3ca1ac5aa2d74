package api

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/canvas-templates/internal/api/handlers"
	"github.com/nebari-dev/canvas-templates/internal/config"
	"github.com/nebari-dev/canvas-templates/internal/filestore"
	"github.com/nebari-dev/canvas-templates/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Route prefixes the template routes are mounted under.
var templatePrefixes = []string{"/api", "/api/templates"}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, svc *service.TemplateService, files filestore.FileStore, logger *slog.Logger) *gin.Engine {
	// Set Gin mode
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = false

	// Middleware
	router.Use(handlers.Recovery(logger))
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(handlers.ErrorResponder(logger))

	router.GET("/health", handlers.HealthCheck)

	templateHandler := handlers.NewTemplateHandler(svc)
	for _, prefix := range templatePrefixes {
		group := router.Group(prefix)
		{
			group.POST("/content", templateHandler.CreateContent)
			group.GET("/all", templateHandler.ListTemplates)
			group.GET("/content", templateHandler.GetContents)
			group.GET("/all/content", templateHandler.GetAllContents)
			group.GET("/category", templateHandler.ListByCategory)
			// Served with and without the trailing slash
			for _, root := range []string{"", "/"} {
				group.GET(root, templateHandler.GetTemplate)
				group.PUT(root, templateHandler.UpdateTemplate)
				group.DELETE(root, templateHandler.DeleteTemplate)
			}
		}
	}

	// Uploaded files are only addressable when stored on local disk
	if local, ok := files.(*filestore.LocalStore); ok {
		router.StaticFS(filestore.UploadsPrefix, local.FileSystem())
	}

	// Swagger documentation
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.NoRoute(handlers.NotFound)

	logger.Info("API router initialized", "mode", cfg.Server.Mode, "storage", cfg.StorageBackend())
	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the configured origins; "*" allows any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
