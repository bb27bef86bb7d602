package client

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/cmissync/internal/client/handlers"
	"github.com/openmined/cmissync/internal/client/middleware"
	"github.com/openmined/cmissync/internal/version"
)

const (
	rateLimitRequests = 10
	rateLimitPeriod   = time.Second
)

type RouteConfig struct {
	Auth middleware.TokenAuthConfig
}

func SetupRoutes(folders handlers.Folders, routeConfig *RouteConfig) http.Handler {
	r := gin.New()

	statusH := handlers.NewStatusHandler(folders)
	syncH := handlers.NewSyncHandler(folders)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(middleware.RateLimit(rateLimitRequests, rateLimitPeriod))

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(routeConfig.Auth))
	{
		v1.GET("/status", statusH.Status)

		v1Sync := v1.Group("/sync")
		{
			v1Sync.GET("/status", syncH.Status)
			v1Sync.GET("/conflicts", syncH.Conflicts)
			v1Sync.GET("/events", syncH.Events)
			v1Sync.POST("/now", syncH.TriggerSync)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}
