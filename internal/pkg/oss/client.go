package oss

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/rnaseq_go_server/config"
)

const uploadMaxRetries = 3

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// ArtifactKey 任务产物的对象键
func ArtifactKey(jobID int64, step, name string) string {
	return fmt.Sprintf("rnaseq/%d/%s/%s", jobID, step, name)
}

// UploadArtifact 上传任务步骤产物
func (c *Client) UploadArtifact(jobID int64, step, name string, data []byte, contentType string) (string, error) {
	objectKey := ArtifactKey(jobID, step, name)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// UploadArtifactWithRetry 上传任务产物，失败按指数退避重试
func (c *Client) UploadArtifactWithRetry(jobID int64, step, name string, data []byte, contentType string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadMaxRetries; attempt++ {
		url, err := c.UploadArtifact(jobID, step, name, data, contentType)
		if err == nil {
			return url, nil
		}
		lastErr = err

		if attempt < uploadMaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			log.Printf("OSS upload retry %d/%d after %v for job %d step %s", attempt, uploadMaxRetries, backoff, jobID, step)
			time.Sleep(backoff)
		}
	}
	return "", lastErr
}

// UploadRaw 上传原始测序文件或表达矩阵
func (c *Client) UploadRaw(datasetID int64, filename string, data []byte) (string, error) {
	objectKey := fmt.Sprintf("rnaseq/raw/%d/%s", datasetID, filename)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/octet-stream"))
	if err != nil {
		return "", fmt.Errorf("failed to upload raw file: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// UploadAvatar 上传用户头像，按用户 ID 加时间戳命名避免 CDN 缓存旧图
func (c *Client) UploadAvatar(userID int64, data []byte, ext string) (string, error) {
	objectKey := fmt.Sprintf("avatars/%d_%d%s", userID, time.Now().Unix(), ext)

	contentType := "image/jpeg"
	switch strings.ToLower(ext) {
	case ".png":
		contentType = "image/png"
	case ".gif":
		contentType = "image/gif"
	case ".webp":
		contentType = "image/webp"
	}

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// Delete 删除文件
func (c *Client) Delete(objectKey string) error {
	err := c.bucket.DeleteObject(objectKey)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

// GetSignedURL 生成带签名的临时访问URL（默认1小时有效）
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600) // 默认1小时
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}

// ExtractObjectKey 从 URL 中提取 object key
func (c *Client) ExtractObjectKey(url string) string {
	// 处理 CDN 域名
	if c.cdnDomain != "" {
		prefix := fmt.Sprintf("https://%s/", c.cdnDomain)
		if strings.HasPrefix(url, prefix) {
			return url[len(prefix):]
		}
	}

	// 标准 OSS URL: https://bucket-name.endpoint/path/to/object
	parts := strings.Split(url, "/")
	if len(parts) >= 4 {
		return strings.Join(parts[3:], "/")
	}

	return path.Base(url)
}
