package restapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures the Gin router with the balance API, health check and
// Prometheus metrics endpoint.
func SetupRouter(handler *BalanceHandler) *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/balance", handler.GetBalanceHandler)
		v1.GET("/balance/:chain/:contract", handler.GetTokenBalanceHandler)
		v1.POST("/refresh", handler.ForceRefreshHandler)
		v1.GET("/chains", handler.GetChainsHandler)
	}

	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
