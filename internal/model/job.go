package model

import (
	"time"
)

// 任务状态
const (
	JobStatusPending         = "pending"
	JobStatusProcessing      = "processing"
	JobStatusWaitingForInput = "waiting_for_input"
	JobStatusCompleted       = "completed"
	JobStatusFailed          = "failed"
	JobStatusCancelled       = "cancelled"
)

// 分析类型
const (
	AnalysisBulkUpstream       = "bulk_upstream"
	AnalysisBulkDownstream     = "bulk_downstream"
	AnalysisBulkComprehensive  = "bulk_comprehensive"
	AnalysisScRNAUpstream      = "scrna_upstream"
	AnalysisScRNADownstream    = "scrna_downstream"
	AnalysisScRNAComprehensive = "scrna_comprehensive"
)

// AnalysisTypes 已知分析类型集合，任务创建时校验
var AnalysisTypes = map[string]bool{
	AnalysisBulkUpstream:       true,
	AnalysisBulkDownstream:     true,
	AnalysisBulkComprehensive:  true,
	AnalysisScRNAUpstream:      true,
	AnalysisScRNADownstream:    true,
	AnalysisScRNAComprehensive: true,
}

// AnalysisJob 一次流水线执行
type AnalysisJob struct {
	ID                 int64      `gorm:"primaryKey" json:"id"`
	DatasetID          int64      `gorm:"not null;index" json:"dataset_id"`
	UserID             int64      `gorm:"not null;index" json:"user_id"`
	AnalysisType       string     `gorm:"size:30;not null" json:"analysis_type"`
	Status             string     `gorm:"size:20;default:pending;index" json:"status"`
	CurrentStep        int        `gorm:"default:0" json:"current_step"`
	CurrentStepName    string     `gorm:"size:100" json:"current_step_name,omitempty"`
	ProgressPercentage int        `gorm:"default:0" json:"progress_percentage"`
	Config             JSONMap    `gorm:"type:json" json:"config,omitempty"`  // 阈值、参考基因组、线程数等
	Metrics            JSONMap    `gorm:"type:json" json:"metrics,omitempty"` // total_reads, mapped_reads, alignment_rate...
	PendingQuestion    string     `gorm:"type:text" json:"pending_question,omitempty"` // waiting_for_input 时暴露给用户的问题
	ErrorMessage       string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt          time.Time  `gorm:"index" json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ElapsedSeconds     int        `json:"elapsed_seconds,omitempty"`

	// 关联
	Dataset *Dataset `gorm:"foreignKey:DatasetID" json:"dataset,omitempty"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// IsTerminal 任务是否已到达终止状态
func (j *AnalysisJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// 步骤状态
const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// PipelineStep 任务的单个执行阶段
type PipelineStep struct {
	ID              int64       `gorm:"primaryKey" json:"id"`
	JobID           int64       `gorm:"not null;index:idx_job_step,unique" json:"job_id"`
	StepNumber      int         `gorm:"not null;index:idx_job_step,unique" json:"step_number"`
	Name            string      `gorm:"size:100;not null" json:"name"`
	Status          string      `gorm:"size:20;default:pending" json:"status"`
	InputFiles      StringArray `gorm:"type:json" json:"input_files,omitempty"`
	OutputFiles     StringArray `gorm:"type:json" json:"output_files,omitempty"`
	Parameters      JSONMap     `gorm:"type:json" json:"parameters,omitempty"`
	Metrics         JSONMap     `gorm:"type:json" json:"metrics,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount      int         `gorm:"default:0" json:"retry_count"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

func (PipelineStep) TableName() string {
	return "pipeline_steps"
}
