package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
)

var (
	ErrFileTooLarge    = fmt.Errorf("文件过大")
	ErrInvalidFileType = fmt.Errorf("不支持的文件类型")
	ErrNoFiles         = fmt.Errorf("未选择任何文件")
	ErrUploadNotFound  = fmt.Errorf("上传文件不存在或已过期")
)

type UploadService struct {
	cfg *config.Config
}

func NewUploadService(cfg *config.Config) *UploadService {
	return &UploadService{cfg: cfg}
}

// UploadInput 一个待保存的上传文件
type UploadInput struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Save 把一批测序文件或表达矩阵存入新的上传目录，返回 upload_id
func (s *UploadService) Save(inputs []UploadInput) (*dto.UploadResponse, error) {
	if len(inputs) == 0 {
		return nil, ErrNoFiles
	}

	for _, in := range inputs {
		if s.cfg.Upload.MaxSize > 0 && in.Size > s.cfg.Upload.MaxSize {
			return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, in.Name)
		}
		if !s.allowedExtension(in.Name) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, in.Name)
		}
	}

	uploadID, err := generateUploadID()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.cfg.Upload.TempDir, uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	resp := &dto.UploadResponse{UploadID: uploadID}
	for _, in := range inputs {
		name := filepath.Base(in.Name)
		destPath := filepath.Join(dir, name)

		dest, err := os.Create(destPath)
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		written, err := io.Copy(dest, in.Reader)
		dest.Close()
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}

		resp.Files = append(resp.Files, dto.UploadedFile{Name: name, Size: written})
	}

	expiresAt := time.Now().Add(time.Duration(s.cfg.Upload.ExpireHours) * time.Hour)
	resp.ExpiresAt = expiresAt.Format(time.RFC3339)
	return resp, nil
}

// GetUploadPath 获取上传目录路径
func (s *UploadService) GetUploadPath(uploadID string) (string, error) {
	if !validUploadID(uploadID) {
		return "", ErrUploadNotFound
	}
	path := filepath.Join(s.cfg.Upload.TempDir, uploadID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", ErrUploadNotFound
	}
	return path, nil
}

// ResolveFile 把上传目录内的文件名解析为绝对路径，拒绝目录穿越
func (s *UploadService) ResolveFile(uploadID, name string) (string, error) {
	dir, err := s.GetUploadPath(uploadID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, filepath.Base(name))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrUploadNotFound, name)
	}
	return path, nil
}

// CleanupUpload 清理上传目录
func (s *UploadService) CleanupUpload(uploadID string) error {
	if !validUploadID(uploadID) {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.cfg.Upload.TempDir, uploadID))
}

// CleanupExpired 删除超过保留期的上传目录，返回清理数量
func (s *UploadService) CleanupExpired() (int, error) {
	entries, err := os.ReadDir(s.cfg.Upload.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-time.Duration(s.cfg.Upload.ExpireHours) * time.Hour)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !validUploadID(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.Upload.TempDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *UploadService) allowedExtension(name string) bool {
	if len(s.cfg.Upload.AllowedExtensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range s.cfg.Upload.AllowedExtensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// validUploadID 上传 ID 为 32 位十六进制串
func validUploadID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func generateUploadID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
