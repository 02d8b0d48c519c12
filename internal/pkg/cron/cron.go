package cron

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/rnaseq_go_server/internal/service"
)

type Service struct {
	creditService *service.CreditService
	uploadService *service.UploadService
	workDir       string
	workExpire    time.Duration
	stopChan      chan struct{}
}

func NewService(
	creditService *service.CreditService,
	uploadService *service.UploadService,
	workDir string,
	workExpireHours int,
) *Service {
	if workExpireHours <= 0 {
		workExpireHours = 24
	}
	return &Service{
		creditService: creditService,
		uploadService: uploadService,
		workDir:       workDir,
		workExpire:    time.Duration(workExpireHours) * time.Hour,
		stopChan:      make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runDailyGrant()
	go s.runCleanup()
	log.Println("Cron service started (daily credit grant + temp cleanup)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runDailyGrant 每日积分发放，UTC 零点触发
func (s *Service) runDailyGrant() {
	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.grantDailyCredits()
			timer.Reset(24 * time.Hour)
		}
	}
}

func (s *Service) grantDailyCredits() {
	log.Println("Starting daily credit grant...")
	granted, err := s.creditService.DailyGrant()
	if err != nil {
		log.Printf("Daily credit grant failed: %v", err)
		return
	}
	log.Printf("Daily credit grant completed, %d users granted", granted)
}

// runCleanup 每小时执行一次全量清理
func (s *Service) runCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanupAll()
		}
	}
}

// cleanupAll 清理过期上传目录与残留的流水线工作目录
func (s *Service) cleanupAll() {
	c1, err := s.uploadService.CleanupExpired()
	if err != nil {
		log.Printf("Cleanup uploads failed: %v", err)
	}
	c2 := s.cleanupWorkDirs()

	if c1+c2 > 0 {
		log.Printf("Cleanup summary: uploads=%d, workdirs=%d", c1, c2)
	}
}

// cleanupWorkDirs 清理过期的流水线工作目录（{work_dir}/job_*）。
// 正常完成的任务由 worker 自行清理，这里兜底 worker 崩溃留下的目录。
func (s *Service) cleanupWorkDirs() int {
	if s.workDir == "" {
		return 0
	}

	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleanup workdirs: failed to read dir %s: %v", s.workDir, err)
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job_") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > s.workExpire {
			dirPath := filepath.Join(s.workDir, entry.Name())
			if err := os.RemoveAll(dirPath); err != nil {
				log.Printf("Cleanup workdirs: failed to remove %s: %v", dirPath, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}

// RunNow 立即执行每日积分发放（用于测试或手动触发）
func (s *Service) RunNow() error {
	_, err := s.creditService.DailyGrant()
	return err
}
