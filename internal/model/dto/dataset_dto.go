package dto

// SampleDecl 创建数据集时声明的样本
type SampleDecl struct {
	SampleID  string `json:"sample_id" binding:"required,max=100"`
	Read1     string `json:"read1,omitempty" binding:"omitempty,max=500"`
	Read2     string `json:"read2,omitempty" binding:"omitempty,max=500"`
	Condition string `json:"condition,omitempty" binding:"omitempty,max=50"`
}

// CreateDatasetRequest 创建数据集请求
type CreateDatasetRequest struct {
	Name     string       `json:"name" binding:"required,max=200"`
	Organism string       `json:"organism,omitempty" binding:"omitempty,max=50"`
	Kind     string       `json:"kind" binding:"required,oneof=bulk single_cell"`
	UploadID string       `json:"upload_id" binding:"required,max=64"`
	Matrix   string       `json:"matrix,omitempty" binding:"omitempty,max=500"` // 上传目录内的矩阵文件名
	Samples  []SampleDecl `json:"samples,omitempty" binding:"omitempty,dive"`
}

// DatasetItem 数据集列表项
type DatasetItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Organism    string `json:"organism"`
	Kind        string `json:"kind"`
	SampleCount int    `json:"sample_count"`
	HasMatrix   bool   `json:"has_matrix"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// ValidationIssue 校验失败详情
type ValidationIssue struct {
	Reason   string `json:"reason"`
	SampleID string `json:"sample_id,omitempty"`
	File     string `json:"file,omitempty"`
	Detail   string `json:"detail,omitempty"`
}
