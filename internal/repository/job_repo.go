package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/internal/model"
)

// ErrJobNotClaimable 任务已被其他 worker 认领或不在可认领状态
var ErrJobNotClaimable = errors.New("任务不可认领")

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.AnalysisJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) Update(job *model.AnalysisJob) error {
	return r.db.Save(job).Error
}

func (r *JobRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.AnalysisJob{}).Where("id = ?", id).Updates(fields).Error
}

func (r *JobRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.AnalysisJob{}).Where("id = ?", id).Update("status", status).Error
}

// GetActiveByDatasetID 查询数据集当前活跃任务（pending/processing/waiting_for_input）
func (r *JobRepository) GetActiveByDatasetID(datasetID int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.Where("dataset_id = ? AND status IN ?", datasetID,
		[]string{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusWaitingForInput}).
		Order("created_at DESC").First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim 将 pending 任务原子地置为 processing；status 条件保证同一任务不会被两个 worker 认领
func (r *JobRepository) Claim(id int64) (*model.AnalysisJob, error) {
	now := time.Now()
	result := r.db.Model(&model.AnalysisJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     model.JobStatusProcessing,
			"started_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrJobNotClaimable
	}
	return r.GetByID(id)
}

// Resume 将 waiting_for_input 任务置回 processing
func (r *JobRepository) Resume(id int64) (*model.AnalysisJob, error) {
	result := r.db.Model(&model.AnalysisJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusWaitingForInput).
		Updates(map[string]interface{}{
			"status":           model.JobStatusProcessing,
			"pending_question": "",
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrJobNotClaimable
	}
	return r.GetByID(id)
}

func (r *JobRepository) ListByUserID(userID int64, page, pageSize int, status string) ([]*model.AnalysisJob, int64, error) {
	var jobs []*model.AnalysisJob
	var total int64

	query := r.db.Model(&model.AnalysisJob{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	return jobs, total, err
}

// CreateSteps 批量创建步骤
func (r *JobRepository) CreateSteps(steps []*model.PipelineStep) error {
	return r.db.Create(&steps).Error
}

func (r *JobRepository) GetSteps(jobID int64) ([]*model.PipelineStep, error) {
	var steps []*model.PipelineStep
	err := r.db.Where("job_id = ?", jobID).Order("step_number ASC").Find(&steps).Error
	return steps, err
}

func (r *JobRepository) UpdateStep(step *model.PipelineStep) error {
	return r.db.Save(step).Error
}

// UpdateStepWithJobProgress 在同一事务内更新步骤状态与任务进度，
// 保证读者不会看到已完成步骤而任务指标未更新的中间态
func (r *JobRepository) UpdateStepWithJobProgress(step *model.PipelineStep, jobFields map[string]interface{}) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(step).Error; err != nil {
			return err
		}
		if len(jobFields) == 0 {
			return nil
		}
		return tx.Model(&model.AnalysisJob{}).
			Where("id = ?", step.JobID).Updates(jobFields).Error
	})
}
