// Package api wires the HTTP surface of the billing service.
//
// The surface is deliberately small: the AWS Marketplace checkout callback,
// the checkout finalize endpoint called by the platform frontend, the cloud
// free-trial endpoints, and a health probe. Authentication is handled
// upstream by the platform's ingress; this service trusts the organization
// ID the gateway forwards.
// Prometheus metrics are served from a separate port (see cmd/server), never
// from this router.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/config"
)

// NewRouter builds the Gin engine with all routes registered.
func NewRouter(cfg *config.Config, catalog *sqlx.DB, subscriptions *SubscriptionHandler) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", healthHandler(catalog))

	subs := router.Group("/subscriptions")
	{
		subs.POST("/aws-subscription", subscriptions.Checkout)
		subs.POST("/aws-subscription/finalize", subscriptions.Finalize)
		subs.POST("/free-trial", subscriptions.CreateFreeTrial)
		subs.GET("/free-trial/check-availability", subscriptions.FreeTrialAvailability)
	}

	return router
}

// healthHandler reports liveness plus catalog database reachability.
func healthHandler(catalog *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := catalog.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
