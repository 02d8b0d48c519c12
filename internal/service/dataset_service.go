package service

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/rnaseq"
)

var (
	ErrDatasetNotFound   = errors.New("数据集不存在")
	ErrDatasetPermission = errors.New("无权操作此数据集")
	ErrDatasetInUse      = errors.New("数据集已有分析任务，无法修改类型")
	ErrDatasetNoInput    = errors.New("数据集必须包含测序文件或表达矩阵")
)

// ValidationFailedError 上传文件未通过校验，携带逐文件原因
type ValidationFailedError struct {
	Issues []dto.ValidationIssue
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("文件校验失败（%d 个问题）", len(e.Issues))
}

type DatasetService struct {
	datasetRepo *repository.DatasetRepository
	uploadSvc   *UploadService
	cfg         *config.Config
}

func NewDatasetService(datasetRepo *repository.DatasetRepository, uploadSvc *UploadService, cfg *config.Config) *DatasetService {
	return &DatasetService{
		datasetRepo: datasetRepo,
		uploadSvc:   uploadSvc,
		cfg:         cfg,
	}
}

// Create 创建数据集。入库前对声明的 FASTQ 或矩阵做结构校验，
// 任一文件不通过则整体拒绝。
func (s *DatasetService) Create(userID int64, req *dto.CreateDatasetRequest) (*model.Dataset, error) {
	organism := req.Organism
	if organism == "" {
		organism = "human"
	}
	if _, err := s.cfg.OrganismFor(organism); err != nil {
		return nil, err
	}

	if len(req.Samples) == 0 && req.Matrix == "" {
		return nil, ErrDatasetNoInput
	}

	dataset := &model.Dataset{
		UserID:   userID,
		Name:     req.Name,
		Organism: organism,
		Kind:     req.Kind,
		UploadID: req.UploadID,
		Status:   "ready",
	}

	// 解析并校验样本 FASTQ
	if len(req.Samples) > 0 {
		samples, inputs, err := s.resolveSamples(req)
		if err != nil {
			return nil, err
		}

		pairedEnd := false
		for _, in := range inputs {
			if in.Read2 != "" {
				pairedEnd = true
			}
		}
		if issues := rnaseq.ValidateFastqFiles(inputs, pairedEnd); len(issues) > 0 {
			return nil, &ValidationFailedError{Issues: toIssueDTOs(issues)}
		}
		dataset.Samples = samples
	}

	// 解析并校验表达矩阵
	if req.Matrix != "" {
		path, err := s.uploadSvc.ResolveFile(req.UploadID, req.Matrix)
		if err != nil {
			return nil, err
		}

		declared := make([]string, 0, len(req.Samples))
		for _, sd := range req.Samples {
			declared = append(declared, sd.SampleID)
		}
		if issues := rnaseq.ValidateMatrixFile(path, declared); len(issues) > 0 {
			return nil, &ValidationFailedError{Issues: toIssueDTOs(issues)}
		}
		dataset.MatrixPath = path
	}

	if err := s.datasetRepo.Create(dataset); err != nil {
		return nil, err
	}
	return dataset, nil
}

// resolveSamples 把样本声明中的文件名解析为上传目录内的绝对路径
func (s *DatasetService) resolveSamples(req *dto.CreateDatasetRequest) (model.SampleFiles, []rnaseq.SampleInput, error) {
	samples := make(model.SampleFiles, 0, len(req.Samples))
	inputs := make([]rnaseq.SampleInput, 0, len(req.Samples))

	for _, sd := range req.Samples {
		if sd.Read1 == "" {
			return nil, nil, &ValidationFailedError{Issues: []dto.ValidationIssue{{
				Reason:   "missing_sample_files",
				SampleID: sd.SampleID,
				Detail:   "样本缺少 read1 文件",
			}}}
		}

		r1, err := s.uploadSvc.ResolveFile(req.UploadID, sd.Read1)
		if err != nil {
			return nil, nil, &ValidationFailedError{Issues: []dto.ValidationIssue{{
				Reason:   "missing_file",
				SampleID: sd.SampleID,
				File:     sd.Read1,
			}}}
		}

		r2 := ""
		if sd.Read2 != "" {
			r2, err = s.uploadSvc.ResolveFile(req.UploadID, sd.Read2)
			if err != nil {
				return nil, nil, &ValidationFailedError{Issues: []dto.ValidationIssue{{
					Reason:   "missing_file",
					SampleID: sd.SampleID,
					File:     sd.Read2,
				}}}
			}
		}

		samples = append(samples, model.SampleFile{
			SampleID:  sd.SampleID,
			Read1Path: r1,
			Read2Path: r2,
			Condition: sd.Condition,
		})
		inputs = append(inputs, rnaseq.SampleInput{
			SampleID: sd.SampleID,
			Read1:    r1,
			Read2:    r2,
		})
	}
	return samples, inputs, nil
}

// GetByID 获取数据集，校验归属
func (s *DatasetService) GetByID(userID, datasetID int64) (*model.Dataset, error) {
	dataset, err := s.datasetRepo.GetByID(datasetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	if dataset.UserID != userID {
		return nil, ErrDatasetPermission
	}
	return dataset, nil
}

// List 分页列出用户数据集
func (s *DatasetService) List(userID int64, page, pageSize int) ([]*dto.DatasetItem, int64, error) {
	datasets, total, err := s.datasetRepo.ListByUserID(userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.DatasetItem, len(datasets))
	for i, d := range datasets {
		items[i] = &dto.DatasetItem{
			ID:          d.ID,
			Name:        d.Name,
			Organism:    d.Organism,
			Kind:        d.Kind,
			SampleCount: len(d.Samples),
			HasMatrix:   d.MatrixPath != "",
			Status:      d.Status,
			CreatedAt:   d.CreatedAt.Format(time.RFC3339),
		}
	}
	return items, total, nil
}

// Rename 更新数据集名称。kind 一旦有任务便不可变更，这里不提供修改入口。
func (s *DatasetService) Rename(userID, datasetID int64, name string) (*model.Dataset, error) {
	dataset, err := s.GetByID(userID, datasetID)
	if err != nil {
		return nil, err
	}

	dataset.Name = name
	if err := s.datasetRepo.Update(dataset); err != nil {
		return nil, err
	}
	return dataset, nil
}

// Delete 删除数据集及其全部任务与结果
func (s *DatasetService) Delete(userID, datasetID int64) error {
	if _, err := s.GetByID(userID, datasetID); err != nil {
		return err
	}
	return s.datasetRepo.Delete(datasetID)
}

func toIssueDTOs(issues []rnaseq.ValidationError) []dto.ValidationIssue {
	out := make([]dto.ValidationIssue, len(issues))
	for i, v := range issues {
		out[i] = dto.ValidationIssue{
			Reason:   v.Reason,
			SampleID: v.SampleID,
			File:     v.File,
			Detail:   v.Detail,
		}
	}
	return out
}
