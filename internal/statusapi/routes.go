package statusapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/inksight/inksync/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func setupRoutes(cfg Config, src Sources) http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(sloggin.NewWithConfig(httpLogger, sloggin.Config{
		// local chatter; keep it below the daemon's info stream
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(gzipMiddleware())
	r.Use(rateLimiter())

	h := newHandlers(src)

	r.GET("/", indexHandler)

	v1 := r.Group("/v1")
	v1.Use(tokenAuth(cfg.Token))
	{
		v1.GET("/status", h.status)
		v1.GET("/documents", h.documents)
		v1.GET("/queue", h.queue)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return r.Handler()
}

func indexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.DetailedWithApp())
}
