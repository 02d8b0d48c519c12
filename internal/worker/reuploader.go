package worker

import (
	"context"
	"io/fs"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/qs3c/rnaseq_go_server/internal/pkg/oss"
)

const reuploadInterval = 5 * time.Minute

// Reuploader 后台把 OSS 不可用期间落盘的产物补传到 OSS
type Reuploader struct {
	ossClient *oss.Client
	localRoot string
}

// NewReuploader 创建补传器
func NewReuploader(ossClient *oss.Client, localRoot string) *Reuploader {
	return &Reuploader{
		ossClient: ossClient,
		localRoot: localRoot,
	}
}

// Start 启动后台补传循环
func (r *Reuploader) Start(ctx context.Context) {
	if r.ossClient == nil {
		log.Println("Reuploader disabled: OSS not configured")
		return
	}

	// 启动后先执行一次
	r.run()

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reuploader stopped")
			return
		case <-ticker.C:
			r.run()
		}
	}
}

// run 扫描本地产物目录（{root}/{job_id}/{step}/{name}），逐个补传
func (r *Reuploader) run() {
	if _, err := os.Stat(r.localRoot); os.IsNotExist(err) {
		return
	}

	var uploaded int
	err := filepath.WalkDir(r.localRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(r.localRoot, path)
		if err != nil {
			return nil
		}
		jobID, step, name, ok := splitArtifactPath(rel)
		if !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Reuploader: failed to read %s: %v", path, err)
			return nil
		}

		contentType := mime.TypeByExtension(filepath.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if _, err := r.ossClient.UploadArtifactWithRetry(jobID, step, name, data, contentType); err != nil {
			log.Printf("Reuploader: failed to upload %s: %v", rel, err)
			return nil
		}

		os.Remove(path)
		uploaded++
		return nil
	})
	if err != nil {
		log.Printf("Reuploader: walk failed: %v", err)
	}

	if uploaded > 0 {
		log.Printf("Reuploader: re-uploaded %d artifacts", uploaded)
	}
}

// splitArtifactPath 解析 job_id/step/name 三段路径
func splitArtifactPath(rel string) (jobID int64, step, name string, ok bool) {
	first, rest := split2(rel)
	step, name = split2(rest)
	if first == "" || step == "" || name == "" {
		return 0, "", "", false
	}

	jobID, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, "", "", false
	}
	return jobID, step, name, true
}

func split2(path string) (string, string) {
	for i := 0; i < len(path); i++ {
		if os.IsPathSeparator(path[i]) {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
