package main

import (
	"github.com/gin-gonic/gin"

	"github.com/arjunmehta/hlsvod/internal/config"
	"github.com/arjunmehta/hlsvod/internal/middleware"
)

func setupRouter(api *API, httpCfg config.HTTPConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(), middleware.Metrics())

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/videos/upload", api.uploadVideo)
		v1.GET("/videos", api.listVideos)
		v1.GET("/videos/:id", api.getVideo)
		v1.GET("/videos/:id/status", api.getVideoStatus)
		v1.DELETE("/videos/:id", api.deleteVideo)
		v1.GET("/videos/:id/thumbnail", api.getThumbnail)
	}

	stream := router.Group("/api/v1/stream")
	stream.Use(middleware.CORS(httpCfg.CORSOrigin))
	{
		stream.GET("/:id/master.m3u8", api.getMasterPlaylist)
		stream.GET("/:id/:resolution/playlist.m3u8", api.getVariantPlaylist)
		stream.GET("/:id/:resolution/:segment", api.getSegment)
	}

	return router
}
