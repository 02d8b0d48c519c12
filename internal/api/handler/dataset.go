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

type DatasetHandler struct {
	datasetService *service.DatasetService
}

func NewDatasetHandler(datasetService *service.DatasetService) *DatasetHandler {
	return &DatasetHandler{
		datasetService: datasetService,
	}
}

// Create 创建数据集，入库前校验全部声明的文件
// POST /api/v1/datasets
func (h *DatasetHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	dataset, err := h.datasetService.Create(userID, &req)
	if err != nil {
		var vErr *service.ValidationFailedError
		switch {
		case errors.As(err, &vErr):
			response.ValidationError(c, err.Error(), gin.H{"issues": vErr.Issues})
		case errors.Is(err, service.ErrDatasetNoInput),
			errors.Is(err, service.ErrUploadNotFound):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "数据集已创建", dataset)
}

// List 获取数据集列表
// GET /api/v1/datasets
func (h *DatasetHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.datasetService.List(userID, page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Get 获取数据集详情
// GET /api/v1/datasets/:id
func (h *DatasetHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	datasetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的数据集ID")
		return
	}

	dataset, err := h.datasetService.GetByID(userID, datasetID)
	if err != nil {
		h.writeDatasetError(c, err)
		return
	}

	response.Success(c, dataset)
}

// Rename 重命名数据集
// PUT /api/v1/datasets/:id
func (h *DatasetHandler) Rename(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	datasetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的数据集ID")
		return
	}

	var req struct {
		Name string `json:"name" binding:"required,max=200"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	dataset, err := h.datasetService.Rename(userID, datasetID, req.Name)
	if err != nil {
		h.writeDatasetError(c, err)
		return
	}

	response.SuccessWithMessage(c, "更新成功", dataset)
}

// Delete 删除数据集及其任务与结果
// DELETE /api/v1/datasets/:id
func (h *DatasetHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	datasetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的数据集ID")
		return
	}

	if err := h.datasetService.Delete(userID, datasetID); err != nil {
		h.writeDatasetError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

func (h *DatasetHandler) writeDatasetError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDatasetNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrDatasetPermission):
		response.PermissionError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
