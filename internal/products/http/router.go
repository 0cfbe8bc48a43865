package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	healthStatusOK        = "ok"
	healthStatusUnhealthy = "unhealthy"
)

type HealthChecker interface {
	Health() error
}

// RegisterRoutes mounts the product API. /healthz reports each named
// dependency and fails if any of them does.
func RegisterRoutes(router *gin.Engine, handler *Handler, checkers map[string]HealthChecker) {
	router.POST("/products", handler.CreateProduct)
	router.GET("/products", handler.ListProducts)
	router.GET("/products/:id", handler.GetProduct)
	router.PUT("/products/:id", handler.UpdateProduct)
	router.DELETE("/products/:id", handler.DeleteProduct)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthHandler(checkers))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func healthHandler(checkers map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		components := make(gin.H, len(checkers))
		for name, checker := range checkers {
			if err := checker.Health(); err != nil {
				status = http.StatusServiceUnavailable
				components[name] = healthStatusUnhealthy
				continue
			}
			components[name] = healthStatusOK
		}

		overall := healthStatusOK
		if status != http.StatusOK {
			overall = healthStatusUnhealthy
		}
		c.JSON(status, gin.H{"status": overall, "components": components})
	}
}
