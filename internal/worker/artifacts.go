package worker

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/qs3c/rnaseq_go_server/internal/pkg/oss"
)

// ArtifactWriter 保存步骤产物，OSS 不可用时落盘本地目录，由 Reuploader 补传
type ArtifactWriter struct {
	ossClient *oss.Client // 可为 nil（本地存储模式）
	localDir  string
}

func NewArtifactWriter(ossClient *oss.Client, localDir string) *ArtifactWriter {
	return &ArtifactWriter{
		ossClient: ossClient,
		localDir:  localDir,
	}
}

// Write 保存产物，返回访问 URL。本地模式返回 local:// 前缀的伪 URL。
func (w *ArtifactWriter) Write(jobID int64, step, name string, data []byte, contentType string) (string, *PipelineError) {
	if w.ossClient != nil {
		url, err := w.ossClient.UploadArtifact(jobID, step, name, data, contentType)
		if err == nil {
			return url, nil
		}
		log.Printf("Job %d: OSS upload failed for %s/%s, falling back to local: %v", jobID, step, name, err)
	}

	localPath := w.localPath(jobID, step, name)
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", newPipelineError("保存分析结果失败，请稍后重试",
			fmt.Errorf("failed to create artifact dir: %w", err), true)
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return "", newPipelineError("保存分析结果失败，请稍后重试",
			fmt.Errorf("failed to write artifact: %w", err), true)
	}

	return fmt.Sprintf("local://%d/%s/%s", jobID, step, name), nil
}

// WriteJSON 保存 JSON 产物
func (w *ArtifactWriter) WriteJSON(jobID int64, step, name string, data []byte) (string, *PipelineError) {
	return w.Write(jobID, step, name, data, "application/json")
}

// WriteCSV 保存 CSV 产物
func (w *ArtifactWriter) WriteCSV(jobID int64, step, name string, data []byte) (string, *PipelineError) {
	return w.Write(jobID, step, name, data, "text/csv")
}

func (w *ArtifactWriter) localPath(jobID int64, step, name string) string {
	return filepath.Join(w.localDir, fmt.Sprintf("%d", jobID), step, name)
}

// LocalRoot 本地产物根目录
func (w *ArtifactWriter) LocalRoot() string {
	return w.localDir
}
