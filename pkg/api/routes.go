package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	applog "apps-console/pkg/log"
)

// SetupRouter configures the Gin router with all API routes.
func SetupRouter(handler *APIHandler, log *logrus.Entry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), applog.GinMiddleware(log.WithField("component", "http")))
	router.Use(CORSMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	gatherer := handler.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	apiGroup := router.Group("/api")
	{
		// Catalog
		apiGroup.GET("/catalog", handler.GetCatalogHandler)
		apiGroup.GET("/catalog/:name", handler.GetCatalogItemHandler)
		apiGroup.POST("/catalog/:name/install", handler.InstallHandler)
		apiGroup.POST("/launch", handler.LaunchHandler)

		// Pool binding and toolbar
		apiGroup.GET("/menu", handler.GetMenuHandler)
		apiGroup.GET("/pool", handler.GetPoolHandler)
		apiGroup.PUT("/pool", handler.SetPoolHandler)
		apiGroup.DELETE("/pool", handler.UnsetPoolHandler)
		apiGroup.GET("/pools", handler.ListPoolsHandler)
		apiGroup.POST("/toolbar/:action", handler.ToolbarHandler)

		// Releases
		apiGroup.GET("/releases", handler.ListReleasesHandler)
		apiGroup.POST("/releases/refresh", handler.RefreshReleasesHandler)
		apiGroup.GET("/releases/events", handler.ReleaseEventsHandler)
		apiGroup.GET("/releases/:name", handler.GetReleaseHandler)
		apiGroup.PUT("/releases/:name", handler.EditReleaseHandler)
		apiGroup.DELETE("/releases/:name", handler.DeleteReleaseHandler)
		apiGroup.POST("/releases/:name/start", handler.StartHandler)
		apiGroup.POST("/releases/:name/stop", handler.StopHandler)
		apiGroup.POST("/releases/:name/upgrade", handler.UpgradeHandler)
		apiGroup.POST("/releases/:name/rollback", handler.RollbackHandler)
		apiGroup.POST("/releases/:name/pull-image", handler.PullImageHandler)
		apiGroup.GET("/releases/:name/shell", handler.ShellChoicesHandler)
		apiGroup.POST("/releases/:name/shell", handler.OpenShellHandler)
	}
	return router
}

// CORSMiddleware allows any origin to call the API.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
