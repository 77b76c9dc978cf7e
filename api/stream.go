package api

import (
	"log"
	"time"

	"vrainweb/task"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 25 * time.Second

// handleEvents streams task events to the client as Server-Sent Events.
// The first event is the full task list; ?bookId=a&bookId=b adds
// book-scoped notifications for those books.
func (h *Handler) handleEvents(c *gin.Context) {
	sub := h.taskManager.Subscribe()
	defer sub.Close()
	for _, bookID := range c.QueryArray("bookId") {
		sub.Watch(bookID)
	}
	log.Printf("Event stream %s opened from %s", sub.ID, c.ClientIP())
	defer log.Printf("Event stream %s closed", sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), eventPayload(ev))
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}

func eventPayload(ev task.Event) any {
	if ev.Type == task.EventTaskList {
		return ev.Tasks
	}
	return ev.Task
}
