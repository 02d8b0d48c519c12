package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/rnaseq_go_server/config"
)

var (
	dryRun       = flag.Bool("dry-run", true, "Dry run mode, don't actually delete files")
	uploadExpire = flag.Int("upload-expire", 24, "Hours to keep uploaded files")
	workExpire   = flag.Int("work-expire", 24, "Hours to keep pipeline work directories")
	cleanUploads = flag.Bool("clean-uploads", true, "Clean expired upload directories")
	cleanWork    = flag.Bool("clean-work", true, "Clean stale pipeline work directories")
)

func main() {
	flag.Parse()

	log.Println("Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	uploadDir := cfg.Upload.TempDir
	workDir := cfg.Pipeline.WorkDir
	totalSize := int64(0)
	totalFiles := 0
	deletedSize := int64(0)
	deletedDirs := 0

	// 1. 清理过期的上传目录
	if *cleanUploads {
		log.Printf("Cleaning expired upload directories (older than %d hours)...", *uploadExpire)
		size, count := cleanExpiredDirs(uploadDir, "", *uploadExpire, *dryRun)
		deletedSize += size
		deletedDirs += count
	}

	// 2. 清理残留的流水线工作目录
	if *cleanWork {
		log.Printf("Cleaning stale work directories (older than %d hours)...", *workExpire)
		size, count := cleanExpiredDirs(workDir, "job_", *workExpire, *dryRun)
		deletedSize += size
		deletedDirs += count
	}

	// 3. 统计当前占用
	log.Println("Scanning current disk usage...")
	for _, dir := range []string{uploadDir, workDir} {
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				totalSize += info.Size()
				totalFiles++
			}
			return nil
		})
	}

	// 输出统计
	log.Println(strings.Repeat("=", 60))
	log.Println("Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Total files: %d", totalFiles)
	log.Printf("Total size: %s", formatSize(totalSize))
	log.Printf("Deleted directories: %d", deletedDirs)
	log.Printf("Freed space: %s", formatSize(deletedSize))
	if *dryRun {
		log.Println("DRY RUN MODE - No files were actually deleted")
		log.Println("Run with -dry-run=false to actually delete files")
	} else {
		log.Println("Cleanup completed")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanExpiredDirs 删除目录下超过保留期的子目录，prefix 非空时只处理匹配前缀的目录
func cleanExpiredDirs(root, prefix string, expireHours int, dryRun bool) (int64, int) {
	if root == "" {
		return 0, 0
	}

	expireTime := time.Now().Add(-time.Duration(expireHours) * time.Hour)
	var totalSize int64
	var count int

	entries, err := os.ReadDir(root)
	if err != nil {
		log.Printf("Failed to read dir %s: %v", root, err)
		return 0, 0
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if prefix != "" && !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		// 产物目录由 Reuploader 负责
		if entry.Name() == "artifacts" {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(expireTime) {
			size := getDirSize(dirPath)
			totalSize += size

			log.Printf("  - %s (%.2f MB, %s old)",
				entry.Name(),
				float64(size)/1024/1024,
				time.Since(info.ModTime()).Round(time.Hour))

			if !dryRun {
				if err := os.RemoveAll(dirPath); err != nil {
					log.Printf("    Failed to delete: %v", err)
					continue
				}
			}
			count++
		}
	}

	log.Printf("Found %d expired directories under %s (total: %s)",
		count, root, formatSize(totalSize))

	return totalSize, count
}

// getDirSize 计算目录大小
func getDirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// formatSize 格式化文件大小
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
