package handlers

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
)

// ApprovalHandler handles task proposals and the resulting tasks
type ApprovalHandler struct {
	taskService *services.TaskService
}

// NewApprovalHandler creates a new ApprovalHandler instance
func NewApprovalHandler(taskService *services.TaskService) *ApprovalHandler {
	return &ApprovalHandler{taskService: taskService}
}

// ApproveRequest optionally carries the edited proposal
type ApproveRequest struct {
	ModifiedData json.RawMessage `json:"modified_data"`
}

// RejectRequest optionally carries feedback for the agent
type RejectRequest struct {
	Feedback string `json:"feedback"`
}

// bindOptionalJSON accepts an empty body
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		respondValidation(c, err)
		return false
	}
	return true
}

// ListApprovals lists the user's approvals
// GET /api/approvals?status=
func (h *ApprovalHandler) ListApprovals(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	approvals, err := h.taskService.ListApprovals(userID, c.Query("status"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"approvals": approvals,
		"total":     len(approvals),
	})
}

// GetApproval returns one approval with its tasks
// GET /api/approvals/:id
func (h *ApprovalHandler) GetApproval(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	approvalID, ok := pathID(c, "id")
	if !ok {
		return
	}

	approval, err := h.taskService.GetApproval(approvalID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, approval)
}

// Approve accepts a pending approval
// POST /api/approvals/:id/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	approvalID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req ApproveRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	approval, err := h.taskService.Approve(c.Request.Context(), approvalID, userID, req.ModifiedData)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"status": approval.Status})
}

// Reject declines a pending approval
// POST /api/approvals/:id/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	approvalID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req RejectRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	approval, err := h.taskService.Reject(c.Request.Context(), approvalID, userID, req.Feedback)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"status": approval.Status})
}

// ListTasks lists the user's tasks with their calendar events
// GET /api/tasks?status=
func (h *ApprovalHandler) ListTasks(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	tasks, err := h.taskService.ListTasks(userID, c.Query("status"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}
