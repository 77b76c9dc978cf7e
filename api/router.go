package api

import (
	"vrainweb/config"
	"vrainweb/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(tm, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "subscribers": tm.Subscribers()})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.GET("/tasks/:taskId/logs", h.handleTaskLogs)
		v1.POST("/tasks/:taskId/cancel", h.handleCancelTask)
		v1.GET("/stats/tasks", h.handleTaskStats)

		v1.POST("/books/:bookId/generate", h.handleGenerate)
		v1.GET("/books/:bookId/generate/status", h.handleGenerateStatus)
		v1.POST("/books/:bookId/generate/cancel", h.handleCancelGenerate)
		v1.POST("/books/:bookId/preview", h.handlePreview)

		// Live task updates for the web UI.
		v1.GET("/events", h.handleEvents)
	}
	return r
}
