package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"near-buybot/internal/registry"
	"near-buybot/internal/stream"
	"near-buybot/shared/env"
	"near-buybot/shared/logger"
)

func RegisterRoutes(router *gin.Engine, appLogger *logger.Logger) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "API is running. Event engine active!"})
	})
}

func RegisterAPIRoutes(router *gin.Engine, appLogger *logger.Logger, reg *registry.Registry) {
	apiGroup := router.Group("/api/v1")
	{
		apiGroup.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "bots": len(reg.Bots())})
		})

		apiGroup.POST("/events/:stream", handleInjectEvent(appLogger, reg))
	}
	appLogger.Info("API routes registered under /api/v1")
}

// handleInjectEvent accepts a single raw event payload, mainly for manual
// replay and integration testing. The stream id in the path selects the
// event type.
func handleInjectEvent(appLogger *logger.Logger, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		expectedSecret := env.EventInjectSecret
		if expectedSecret != "" {
			received := c.GetHeader("Authorization")
			if received == "" {
				appLogger.Warn("Event injection request missing Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
				return
			}
			if received != expectedSecret {
				appLogger.Error("Unauthorized event injection request")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
		} else {
			appLogger.Warn("No EVENT_INJECT_SECRET configured. Accepting event without Authorization check.")
		}

		streamID := c.Param("stream")
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			appLogger.Error("Failed to read event payload", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
			return
		}

		event, err := stream.Decode(streamID, body)
		if err != nil {
			appLogger.Warn("Rejected injected event", "stream", streamID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		appLogger.Info("Injected event accepted", "stream", streamID, "size", len(body))
		reg.HandleEvent(c.Request.Context(), event)
		c.JSON(http.StatusOK, gin.H{"message": "Event processed"})
	}
}
