package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"vrainweb/config"
	"vrainweb/renderer"
	"vrainweb/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

type ListTasksQuery struct {
	BookID string `form:"bookId"`
	Type   string `form:"type" binding:"omitempty,oneof=generate preview"`
	Status string `form:"status" binding:"omitempty,oneof=pending running completed failed cancelled"`
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

type GenerateRequest struct {
	From     int  `json:"from" binding:"min=0"`
	To       int  `json:"to" binding:"min=0"`
	Compress bool `json:"compress"`
	Test     bool `json:"test"`
	Pages    int  `json:"pages" binding:"min=0"`
	Verbose  bool `json:"verbose"`
}

type PreviewQuery struct {
	Pages int `form:"pages,default=5" binding:"min=1"`
}

type LogsQuery struct {
	Limit int `form:"limit,default=100" binding:"min=0"`
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, task.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many tasks waiting, try again later"})
	default:
		log.Printf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
	}
}

// submit validates the book id and options, then creates the task.
func (h *Handler) submit(c *gin.Context, kind task.Kind, params task.Parameters) {
	bookID := c.Param("bookId")
	if err := renderer.ValidateSubjectID(bookID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid book id: %v", err)})
		return
	}
	if err := renderer.ValidateParameters(params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid options: %v", err)})
		return
	}

	t, err := h.taskManager.Submit(kind, bookID, params)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID, "task": t})
}

// handleGenerate starts a full render of a book.
func (h *Handler) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.submit(c, task.KindGenerate, task.Parameters{
		From:     req.From,
		To:       req.To,
		Compress: req.Compress,
		Test:     req.Test,
		Pages:    req.Pages,
		Verbose:  req.Verbose,
	})
}

// handlePreview renders the first few pages of a book in test mode.
func (h *Handler) handlePreview(c *gin.Context) {
	var q PreviewQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, task.KindPreview, task.Parameters{Pages: q.Pages})
}

func (h *Handler) handleGenerateStatus(c *gin.Context) {
	status := h.taskManager.StatusForSubject(c.Param("bookId"), task.KindGenerate)
	c.JSON(http.StatusOK, status)
}

func (h *Handler) handleCancelGenerate(c *gin.Context) {
	cancelled, err := h.taskManager.CancelSubject(c.Param("bookId"), task.KindGenerate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Generation cancelled", "cancelled": len(cancelled)})
}

// handleListTasks lists tasks newest first, one page at a time.
func (h *Handler) handleListTasks(c *gin.Context) {
	var q ListTasksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := task.Filter{
		SubjectID: q.BookID,
		Kind:      task.Kind(q.Type),
		Status:    task.Status(q.Status),
	}
	c.JSON(http.StatusOK, h.taskManager.Query(filter, q.Page, q.Limit))
}

// handleGetTaskStatus retrieves a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, found := h.taskManager.Get(c.Param("taskId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) handleTaskLogs(c *gin.Context) {
	var q LogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logs, err := h.taskManager.Logs(c.Param("taskId"), q.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	t, err := h.taskManager.Cancel(c.Param("taskId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested", "task": t})
}

func (h *Handler) handleTaskStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.Stats())
}
