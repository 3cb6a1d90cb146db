package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapewatch/internal/api/middleware"
	"github.com/timmy/scrapewatch/internal/service"
)

// TaskHandler handles the pending task review queue.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new task handler.
// Parameters:
//   - tasks: lifecycle service instance.
// Returns:
//   - *TaskHandler: initialized handler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// SubmitRequest is the body of POST /api/v1/tasks.
type SubmitRequest struct {
	SiteURL               string `json:"site_url" binding:"required"`
	Instruction           string `json:"instruction" binding:"required"`
	ScheduleIntervalHours int    `json:"schedule_interval_hours"`
}

// Submit handles POST /api/v1/tasks. The call blocks while the schema is
// synthesized and validated against the live page.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	task, err := h.tasks.SubmitForReview(c.Request.Context(), service.SubmitRequest{
		UserID:        middleware.UserID(c),
		SiteURL:       req.SiteURL,
		Instruction:   req.Instruction,
		IntervalHours: req.ScheduleIntervalHours,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// List handles GET /api/v1/tasks.
func (h *TaskHandler) List(c *gin.Context) {
	tasks, err := h.tasks.ListPending(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

// Get handles GET /api/v1/tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.tasks.GetPending(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Approve handles POST /api/v1/tasks/:id/approve.
func (h *TaskHandler) Approve(c *gin.Context) {
	ins, err := h.tasks.Approve(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ins)
}

// Reject handles POST /api/v1/tasks/:id/reject.
func (h *TaskHandler) Reject(c *gin.Context) {
	if err := h.tasks.Reject(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
