package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:      fmt.Sprintf("testuser_%d", time.Now().UnixNano()%1000000),
		Email:         &email,
		PasswordHash:  &passwordHash,
		CreditBalance: 100,
		EmailVerified: true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithCredits 设置积分余额
func WithCredits(balance int) func(*model.User) {
	return func(u *model.User) {
		u.CreditBalance = balance
	}
}

// TestDataset 创建测试数据集
func TestDataset(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Dataset)) *model.Dataset {
	t.Helper()

	dataset := &model.Dataset{
		UserID:   userID,
		Name:     fmt.Sprintf("Test Dataset %d", time.Now().UnixNano()%1000000),
		Organism: "human",
		Kind:     model.DatasetKindBulk,
		Status:   "ready",
	}

	for _, opt := range opts {
		opt(dataset)
	}

	if err := db.Create(dataset).Error; err != nil {
		t.Fatalf("Failed to create test dataset: %v", err)
	}

	return dataset
}

// WithKind 设置数据集类型
func WithKind(kind string) func(*model.Dataset) {
	return func(d *model.Dataset) {
		d.Kind = kind
	}
}

// WithMatrixPath 设置表达矩阵路径
func WithMatrixPath(path string) func(*model.Dataset) {
	return func(d *model.Dataset) {
		d.MatrixPath = path
	}
}

// WithSamples 设置样本文件
func WithSamples(samples model.SampleFiles) func(*model.Dataset) {
	return func(d *model.Dataset) {
		d.Samples = samples
	}
}

// WithConditions 写入样本分组元数据
func WithConditions(conditions map[string]interface{}) func(*model.Dataset) {
	return func(d *model.Dataset) {
		if d.Metadata == nil {
			d.Metadata = model.JSONMap{}
		}
		d.Metadata["conditions"] = conditions
	}
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, userID, datasetID int64, opts ...func(*model.AnalysisJob)) *model.AnalysisJob {
	t.Helper()

	job := &model.AnalysisJob{
		DatasetID:    datasetID,
		UserID:       userID,
		AnalysisType: model.AnalysisBulkDownstream,
		Status:       model.JobStatusPending,
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithAnalysisType 设置分析类型
func WithAnalysisType(analysisType string) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.AnalysisType = analysisType
	}
}

// WithStatus 设置任务状态
func WithStatus(status string) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.Status = status
	}
}

// WithConfig 设置任务配置
func WithConfig(config model.JSONMap) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.Config = config
	}
}

// TestSteps 为任务批量创建步骤
func TestSteps(t *testing.T, db *gorm.DB, jobID int64, names []string) []*model.PipelineStep {
	t.Helper()

	steps := make([]*model.PipelineStep, len(names))
	for i, name := range names {
		steps[i] = &model.PipelineStep{
			JobID:      jobID,
			StepNumber: i + 1,
			Name:       name,
			Status:     model.StepStatusPending,
		}
	}

	if err := db.Create(&steps).Error; err != nil {
		t.Fatalf("Failed to create test steps: %v", err)
	}

	return steps
}
