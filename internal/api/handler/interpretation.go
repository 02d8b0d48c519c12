package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/rnaseq_go_server/internal/api/middleware"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/response"
	"github.com/qs3c/rnaseq_go_server/internal/service"
)

type InterpretationHandler struct {
	interpService *service.InterpretationService
}

func NewInterpretationHandler(interpService *service.InterpretationService) *InterpretationHandler {
	return &InterpretationHandler{
		interpService: interpService,
	}
}

// Create 基于任务结果生成一条 AI 解读
// POST /api/v1/jobs/:id/interpretations
func (h *InterpretationHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的任务ID")
		return
	}

	var req dto.CreateInterpretationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.interpService.Create(c.Request.Context(), userID, jobID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrJobPermission):
			response.PermissionError(c, err.Error())
		case errors.Is(err, service.ErrJobNotCompleted),
			errors.Is(err, service.ErrNoModelConfigured):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.SuccessWithMessage(c, "解读已生成", item)
}

// List 获取任务的全部解读记录
// GET /api/v1/jobs/:id/interpretations
func (h *InterpretationHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的任务ID")
		return
	}

	items, err := h.interpService.List(userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrJobPermission):
			response.PermissionError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, gin.H{"interpretations": items})
}
