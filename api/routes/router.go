// Package routes wires the HTTP trigger surface.
package routes

import (
	"reconpipe/internal/dao"
	"reconpipe/internal/handlers"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func InitRouter(db *gorm.DB, dispatcher handlers.Dispatcher) *gin.Engine {
	router := gin.Default()

	scanHandlers := handlers.NewScanHandler(dispatcher, dao.NewScanDAO(db), dao.NewTargetLookup(db))
	targetHandlers := handlers.NewTargetHandler(dao.NewSeedDAO(db))
	vulnHandlers := handlers.NewVulnHandler(dao.NewVulnDAO(db))

	api := router.Group("/api/v1")
	{
		scans := api.Group("/scans")
		{
			scans.POST("/:stage", scanHandlers.TriggerStage)
			scans.GET("/:id", scanHandlers.GetScanByUUID)
		}

		targets := api.Group("/targets")
		{
			targets.POST("", targetHandlers.CreateTarget)
			targets.GET("", targetHandlers.ListTargets)
			targets.GET("/:id", targetHandlers.GetTarget)
			targets.POST("/:id/seeds", targetHandlers.CreateSeed)
		}

		api.GET("/vulnerabilities", vulnHandlers.ListVulnerabilities)
	}

	return router
}
