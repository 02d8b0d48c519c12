package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/rnaseq_go_server/internal/api/middleware"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/response"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Create 创建分析任务
// POST /api/v1/jobs
func (h *AnalysisHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.analysisService.CreateJob(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDatasetNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrDatasetPermission):
			response.PermissionError(c, err.Error())
		case errors.Is(err, service.ErrInvalidAnalysisType),
			errors.Is(err, service.ErrKindMismatch),
			errors.Is(err, service.ErrMissingInput),
			errors.Is(err, service.ErrInvalidJobConfig):
			response.ParamError(c, err.Error())
		case errors.Is(err, repository.ErrInsufficientCredits):
			response.CreditsError(c, err.Error())
		case errors.Is(err, service.ErrJobConflict):
			response.ConflictError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "任务已创建", resp)
}

// List 获取任务列表
// GET /api/v1/jobs
func (h *AnalysisHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	jobs, total, err := h.analysisService.ListJobs(userID, page, pageSize, status)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, jobs)
}

// Get 获取任务状态与步骤明细
// GET /api/v1/jobs/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
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

	status, err := h.analysisService.GetJobStatus(userID, jobID)
	if err != nil {
		h.writeJobError(c, err)
		return
	}

	response.Success(c, status)
}

// Resume 提交用户输入并恢复任务
// POST /api/v1/jobs/:id/resume
func (h *AnalysisHandler) Resume(c *gin.Context) {
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

	var req dto.ResumeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.analysisService.Resume(c.Request.Context(), userID, jobID, &req); err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotWaiting):
			response.ParamError(c, err.Error())
		default:
			h.writeJobError(c, err)
		}
		return
	}

	response.SuccessWithMessage(c, "任务已恢复", nil)
}

// Cancel 取消任务
// POST /api/v1/jobs/:id/cancel
func (h *AnalysisHandler) Cancel(c *gin.Context) {
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

	if err := h.analysisService.Cancel(c.Request.Context(), userID, jobID); err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotCancellable):
			response.ParamError(c, err.Error())
		default:
			h.writeJobError(c, err)
		}
		return
	}

	response.SuccessWithMessage(c, "已请求取消", nil)
}

// ListGenes 差异表达基因结果
// GET /api/v1/jobs/:id/genes
func (h *AnalysisHandler) ListGenes(c *gin.Context) {
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

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	significantOnly := c.DefaultQuery("significant", "false") == "true"

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	items, total, err := h.analysisService.ListGeneResults(userID, jobID, page, pageSize, significantOnly)
	if err != nil {
		h.writeJobError(c, err)
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// ListPathways 通路富集结果
// GET /api/v1/jobs/:id/pathways
func (h *AnalysisHandler) ListPathways(c *gin.Context) {
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

	items, err := h.analysisService.ListPathwayResults(userID, jobID)
	if err != nil {
		h.writeJobError(c, err)
		return
	}

	response.Success(c, gin.H{"pathways": items})
}

// ListClusters 单细胞聚类结果
// GET /api/v1/jobs/:id/clusters
func (h *AnalysisHandler) ListClusters(c *gin.Context) {
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

	items, err := h.analysisService.ListClusters(userID, jobID)
	if err != nil {
		h.writeJobError(c, err)
		return
	}

	response.Success(c, gin.H{"clusters": items})
}

func (h *AnalysisHandler) writeJobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrJobPermission):
		response.PermissionError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
