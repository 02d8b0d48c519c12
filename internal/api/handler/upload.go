package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/response"
	"github.com/qs3c/rnaseq_go_server/internal/service"
)

type UploadHandler struct {
	uploadService *service.UploadService
	cfg           *config.Config
}

func NewUploadHandler(uploadService *service.UploadService, cfg *config.Config) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		cfg:           cfg,
	}
}

// Upload 接收一批测序文件或表达矩阵，返回 upload_id 供创建数据集时引用
// POST /api/v1/uploads
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.ParamError(c, "请上传文件")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		response.ParamError(c, "未选择任何文件")
		return
	}

	inputs := make([]service.UploadInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			response.ServerError(c, "文件读取失败")
			return
		}
		defer f.Close()
		inputs = append(inputs, service.UploadInput{
			Name:   fh.Filename,
			Size:   fh.Size,
			Reader: f,
		})
	}

	resp, err := h.uploadService.Save(inputs)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileTooLarge),
			errors.Is(err, service.ErrInvalidFileType),
			errors.Is(err, service.ErrNoFiles):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "文件保存失败")
		}
		return
	}

	response.SuccessWithMessage(c, "上传成功", resp)
}
