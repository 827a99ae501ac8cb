package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkwell-cms/inkwell-backend/internal/handler"
	"github.com/inkwell-cms/inkwell-backend/internal/middleware"
	"github.com/inkwell-cms/inkwell-backend/pkg/jwt"
)

// Register mounts all routes on the engine
func Register(
	r *gin.Engine,
	jwtManager *jwt.Manager,
	documents *handler.DocumentHandler,
	presence *handler.PresenceHandler,
	edit *handler.EditHandler,
) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.JWTAuth(jwtManager)

	api := r.Group("/api/v1")
	{
		docs := api.Group("/documents")
		{
			docs.GET("/:group/:slug", documents.Get)
			docs.GET("/:group/:slug/versions", documents.ListVersions)
			docs.GET("/:group/:slug/status", documents.Status)
			docs.POST("/:group/:slug/save", auth, documents.Save)
			docs.DELETE("/:group/:slug/versions/:n", auth, documents.DeleteVersion)
		}
		api.GET("/presence", presence.Members)
	}

	r.GET("/ws/edit", auth, edit.Attach)
}
