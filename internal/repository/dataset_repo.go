package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/internal/model"
)

type DatasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) Create(dataset *model.Dataset) error {
	return r.db.Create(dataset).Error
}

func (r *DatasetRepository) GetByID(id int64) (*model.Dataset, error) {
	var dataset model.Dataset
	err := r.db.Where("id = ?", id).First(&dataset).Error
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

func (r *DatasetRepository) Update(dataset *model.Dataset) error {
	return r.db.Save(dataset).Error
}

func (r *DatasetRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.Dataset{}).Where("id = ?", id).Update("status", status).Error
}

func (r *DatasetRepository) ListByUserID(userID int64, page, pageSize int) ([]*model.Dataset, int64, error) {
	var datasets []*model.Dataset
	var total int64

	query := r.db.Model(&model.Dataset{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&datasets).Error
	return datasets, total, err
}

// Delete 删除数据集并级联删除其任务与结果
func (r *DatasetRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var jobIDs []int64
		if err := tx.Model(&model.AnalysisJob{}).
			Where("dataset_id = ?", id).Pluck("id", &jobIDs).Error; err != nil {
			return err
		}
		if len(jobIDs) > 0 {
			for _, m := range []interface{}{
				&model.PipelineStep{}, &model.AnalysisResult{},
				&model.PathwayResult{}, &model.Cluster{}, &model.AIInterpretation{},
			} {
				if err := tx.Where("job_id IN ?", jobIDs).Delete(m).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("id IN ?", jobIDs).Delete(&model.AnalysisJob{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Delete(&model.Dataset{}).Error
	})
}

// HasJobs 数据集是否已有任务（有任务后 kind 不可再变更）
func (r *DatasetRepository) HasJobs(id int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.AnalysisJob{}).Where("dataset_id = ?", id).Count(&count).Error
	return count > 0, err
}
