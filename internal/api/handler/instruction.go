package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapewatch/internal/api/middleware"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/service"
)

// RunTrigger starts a manual run. It is satisfied by service.Scheduler.
type RunTrigger interface {
	TriggerNow(ctx context.Context, instructionID, userID string) error
}

// InstructionHandler handles approved instructions and their history.
type InstructionHandler struct {
	tasks   *service.TaskService
	trigger RunTrigger
}

// NewInstructionHandler creates a new instruction handler.
// Parameters:
//   - tasks: lifecycle service instance.
//   - trigger: starts manual runs.
// Returns:
//   - *InstructionHandler: initialized handler.
func NewInstructionHandler(tasks *service.TaskService, trigger RunTrigger) *InstructionHandler {
	return &InstructionHandler{tasks: tasks, trigger: trigger}
}

// List handles GET /api/v1/instructions.
func (h *InstructionHandler) List(c *gin.Context) {
	list, err := h.tasks.ListInstructions(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": list, "total": len(list)})
}

// Get handles GET /api/v1/instructions/:id.
func (h *InstructionHandler) Get(c *gin.Context) {
	ins, err := h.tasks.GetInstruction(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ins)
}

// Pause handles POST /api/v1/instructions/:id/pause.
func (h *InstructionHandler) Pause(c *gin.Context) {
	h.transition(c, h.tasks.Pause)
}

// Resume handles POST /api/v1/instructions/:id/resume.
func (h *InstructionHandler) Resume(c *gin.Context) {
	h.transition(c, h.tasks.Resume)
}

func (h *InstructionHandler) transition(c *gin.Context, op func(ctx context.Context, id, userID string) (*domain.Instruction, error)) {
	ins, err := op(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ins)
}

// Delete handles DELETE /api/v1/instructions/:id.
func (h *InstructionHandler) Delete(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RunNow handles POST /api/v1/instructions/:id/run. The run is accepted and
// executed in the background.
func (h *InstructionHandler) RunNow(c *gin.Context) {
	id := c.Param("id")
	if err := h.trigger.TriggerNow(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "instruction_id": id})
}

// Runs handles GET /api/v1/instructions/:id/runs.
func (h *InstructionHandler) Runs(c *gin.Context) {
	runs, err := h.tasks.ListRuns(c.Request.Context(), c.Param("id"), middleware.UserID(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// Changes handles GET /api/v1/instructions/:id/changes.
func (h *InstructionHandler) Changes(c *gin.Context) {
	changes, err := h.tasks.ListChanges(c.Request.Context(), c.Param("id"), middleware.UserID(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes, "total": len(changes)})
}
