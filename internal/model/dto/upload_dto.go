package dto

// UploadedFile 已上传文件信息
type UploadedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// UploadResponse 上传响应
type UploadResponse struct {
	UploadID  string         `json:"upload_id"`
	ExpiresAt string         `json:"expires_at"`
	Files     []UploadedFile `json:"files"`
}
