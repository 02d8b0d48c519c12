package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/internal/model"
)

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// bulk insert 批大小，避免超出 MySQL 占位符上限
const insertBatchSize = 500

// SaveGeneResults 批量写入基因级结果
func (r *ResultRepository) SaveGeneResults(results []*model.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.CreateInBatches(&results, insertBatchSize).Error
}

// ListGeneResults 按校正 p 值升序分页返回基因结果
func (r *ResultRepository) ListGeneResults(jobID int64, page, pageSize int, significantOnly bool, fdr, log2fc float64) ([]*model.AnalysisResult, int64, error) {
	var results []*model.AnalysisResult
	var total int64

	query := r.db.Model(&model.AnalysisResult{}).Where("job_id = ?", jobID)
	if significantOnly {
		query = query.Where("adjusted_p_value < ? AND ABS(log2_fold_change) > ?", fdr, log2fc)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("adjusted_p_value ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&results).Error
	return results, total, err
}

// SavePathwayResults 批量写入通路富集结果
func (r *ResultRepository) SavePathwayResults(results []*model.PathwayResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.CreateInBatches(&results, insertBatchSize).Error
}

func (r *ResultRepository) ListPathwayResults(jobID int64) ([]*model.PathwayResult, error) {
	var results []*model.PathwayResult
	err := r.db.Where("job_id = ?", jobID).
		Order("adjusted_p_value ASC").
		Find(&results).Error
	return results, err
}

// SaveClusters 批量写入单细胞聚类结果
func (r *ResultRepository) SaveClusters(clusters []*model.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}
	return r.db.CreateInBatches(&clusters, insertBatchSize).Error
}

func (r *ResultRepository) ListClusters(jobID int64) ([]*model.Cluster, error) {
	var clusters []*model.Cluster
	err := r.db.Where("job_id = ?", jobID).
		Order("cluster_id ASC").
		Find(&clusters).Error
	return clusters, err
}

// SaveInterpretation 追加一条 AI 解读记录
func (r *ResultRepository) SaveInterpretation(interp *model.AIInterpretation) error {
	return r.db.Create(interp).Error
}

func (r *ResultRepository) ListInterpretations(jobID int64) ([]*model.AIInterpretation, error) {
	var interps []*model.AIInterpretation
	err := r.db.Where("job_id = ?", jobID).
		Order("created_at DESC").
		Find(&interps).Error
	return interps, err
}
