package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/queue"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/worker"
)

var (
	ErrJobNotFound         = errors.New("分析任务不存在")
	ErrJobPermission       = errors.New("无权操作此分析任务")
	ErrJobConflict         = errors.New("数据集已有进行中的任务")
	ErrJobNotWaiting       = errors.New("任务当前无需用户输入")
	ErrJobNotCancellable   = errors.New("任务已结束，无法取消")
	ErrInvalidAnalysisType = errors.New("未知的分析类型")
	ErrKindMismatch        = errors.New("分析类型与数据集类型不匹配")
	ErrMissingInput        = errors.New("数据集缺少该分析所需的输入")
	ErrInvalidJobConfig    = errors.New("分析配置不合法")
)

// jobConfigValidators 创建任务时允许的配置键与各自的类型校验
var jobConfigValidators = map[string]func(v interface{}) bool{
	"reference":           func(v interface{}) bool { _, ok := v.(string); return ok },
	"confirm_bisect":      func(v interface{}) bool { _, ok := v.(bool); return ok },
	"fdr_threshold":       isNumber,
	"log2fc_threshold":    isNumber,
	"min_mean_expression": isNumber,
	"groups": func(v interface{}) bool {
		raw, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		for _, label := range raw {
			if _, ok := label.(string); !ok {
				return false
			}
		}
		return true
	},
}

// isNumber JSON 绑定后的数字是 float64，直接构造请求时可能是 int
func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return true
	}
	return false
}

// validateJobConfig 拒绝未知配置键和类型不符的取值
func validateJobConfig(cfg map[string]interface{}) error {
	for key, value := range cfg {
		valid, ok := jobConfigValidators[key]
		if !ok {
			return fmt.Errorf("%w: 未知的配置项 %s", ErrInvalidJobConfig, key)
		}
		if !valid(value) {
			return fmt.Errorf("%w: 配置项 %s 的取值类型不正确", ErrInvalidJobConfig, key)
		}
	}
	return nil
}

type AnalysisService struct {
	jobRepo     *repository.JobRepository
	datasetRepo *repository.DatasetRepository
	resultRepo  *repository.ResultRepository
	userRepo    *repository.UserRepository
	jobQueue    *queue.Queue
	cfg         *config.Config
}

func NewAnalysisService(
	jobRepo *repository.JobRepository,
	datasetRepo *repository.DatasetRepository,
	resultRepo *repository.ResultRepository,
	userRepo *repository.UserRepository,
	jobQueue *queue.Queue,
	cfg *config.Config,
) *AnalysisService {
	return &AnalysisService{
		jobRepo:     jobRepo,
		datasetRepo: datasetRepo,
		resultRepo:  resultRepo,
		userRepo:    userRepo,
		jobQueue:    jobQueue,
		cfg:         cfg,
	}
}

// CreateJob 创建分析任务：校验类型与数据集、扣积分、建任务与步骤、入队。
// 同一数据集同时只允许一个活跃任务。
func (s *AnalysisService) CreateJob(ctx context.Context, userID int64, req *dto.CreateJobRequest) (*dto.CreateJobResponse, error) {
	if !model.AnalysisTypes[req.AnalysisType] {
		return nil, ErrInvalidAnalysisType
	}

	dataset, err := s.datasetRepo.GetByID(req.DatasetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	if dataset.UserID != userID {
		return nil, ErrDatasetPermission
	}

	if err := s.validateInput(dataset, req.AnalysisType); err != nil {
		return nil, err
	}

	if err := validateJobConfig(req.Config); err != nil {
		return nil, err
	}

	// 参考基因组校验
	if ref, ok := req.Config["reference"].(string); ok && ref != "" {
		if err := s.cfg.ValidateReference(dataset.Organism, ref); err != nil {
			return nil, err
		}
	}

	// 单数据集活跃任务互斥
	if active, err := s.jobRepo.GetActiveByDatasetID(dataset.ID); err == nil && active != nil {
		return nil, ErrJobConflict
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	job := &model.AnalysisJob{
		DatasetID:    dataset.ID,
		UserID:       userID,
		AnalysisType: req.AnalysisType,
		Status:       model.JobStatusPending,
		Config:       model.JSONMap(req.Config),
	}

	// 先扣积分，任何后续失败都退还
	cost := s.cfg.Credits.Costs[req.AnalysisType]
	if cost > 0 {
		if err := s.userRepo.ChargeCredits(userID, cost, nil,
			fmt.Sprintf("创建 %s 分析", req.AnalysisType)); err != nil {
			return nil, err
		}
	}

	refund := func() {
		if cost > 0 {
			jobID := job.ID
			var ref *int64
			if jobID > 0 {
				ref = &jobID
			}
			s.userRepo.AddCredits(userID, cost, model.CreditTxnRefund, ref, "任务创建失败退款")
		}
	}

	if err := s.jobRepo.Create(job); err != nil {
		refund()
		return nil, err
	}

	stepNames := worker.StepsForAnalysisType(req.AnalysisType)
	steps := make([]*model.PipelineStep, len(stepNames))
	for i, name := range stepNames {
		steps[i] = &model.PipelineStep{
			JobID:      job.ID,
			StepNumber: i + 1,
			Name:       name,
			Status:     model.StepStatusPending,
		}
	}
	if err := s.jobRepo.CreateSteps(steps); err != nil {
		refund()
		s.jobRepo.UpdateStatus(job.ID, model.JobStatusFailed)
		return nil, err
	}

	if err := s.enqueue(ctx, job); err != nil {
		refund()
		s.jobRepo.UpdateFields(job.ID, map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": "任务入队失败，请稍后重试",
		})
		return nil, err
	}

	user, err := s.userRepo.GetByID(userID)
	balance := 0
	if err == nil {
		balance = user.CreditBalance
	}

	return &dto.CreateJobResponse{
		JobID:   job.ID,
		Charged: cost,
		Balance: balance,
	}, nil
}

// validateInput 校验数据集类型与输入和分析类型匹配
func (s *AnalysisService) validateInput(dataset *model.Dataset, analysisType string) error {
	scrna := strings.HasPrefix(analysisType, "scrna_")
	if scrna && dataset.Kind != model.DatasetKindSingleCell {
		return ErrKindMismatch
	}
	if !scrna && dataset.Kind != model.DatasetKindBulk {
		return ErrKindMismatch
	}

	switch analysisType {
	case model.AnalysisBulkUpstream, model.AnalysisBulkComprehensive:
		if len(dataset.Samples) == 0 {
			return ErrMissingInput
		}
	case model.AnalysisBulkDownstream:
		if dataset.MatrixPath == "" {
			return ErrMissingInput
		}
	case model.AnalysisScRNAUpstream, model.AnalysisScRNADownstream, model.AnalysisScRNAComprehensive:
		if dataset.MatrixPath == "" {
			return ErrMissingInput
		}
	}
	return nil
}

func (s *AnalysisService) enqueue(ctx context.Context, job *model.AnalysisJob) error {
	return s.jobQueue.Push(ctx, &queue.JobMessage{
		JobID:        job.ID,
		DatasetID:    job.DatasetID,
		UserID:       job.UserID,
		AnalysisType: job.AnalysisType,
	})
}

// GetJobStatus 任务状态与步骤明细
func (s *AnalysisService) GetJobStatus(userID, jobID int64) (*dto.JobStatusResponse, error) {
	job, err := s.getOwnedJob(userID, jobID)
	if err != nil {
		return nil, err
	}

	resp := &dto.JobStatusResponse{
		ID:                 job.ID,
		DatasetID:          job.DatasetID,
		AnalysisType:       job.AnalysisType,
		Status:             job.Status,
		CurrentStep:        job.CurrentStep,
		CurrentStepName:    job.CurrentStepName,
		ProgressPercentage: job.ProgressPercentage,
		Metrics:            job.Metrics,
		PendingQuestion:    job.PendingQuestion,
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
		ElapsedSeconds:     job.ElapsedSeconds,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
		if job.CompletedAt == nil {
			resp.ElapsedSeconds = int(time.Since(*job.StartedAt).Seconds())
		}
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}

	steps, err := s.jobRepo.GetSteps(jobID)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		resp.Steps = append(resp.Steps, dto.StepItem{
			StepNumber:      st.StepNumber,
			Name:            st.Name,
			Status:          st.Status,
			RetryCount:      st.RetryCount,
			DurationSeconds: st.DurationSeconds,
			Metrics:         st.Metrics,
			ErrorMessage:    st.ErrorMessage,
		})
	}
	return resp, nil
}

// ListJobs 分页列出用户任务
func (s *AnalysisService) ListJobs(userID int64, page, pageSize int, status string) ([]*model.AnalysisJob, int64, error) {
	return s.jobRepo.ListByUserID(userID, page, pageSize, status)
}

// Resume 带用户输入恢复 waiting_for_input 的任务并重新入队
func (s *AnalysisService) Resume(ctx context.Context, userID, jobID int64, req *dto.ResumeJobRequest) error {
	job, err := s.getOwnedJob(userID, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusWaitingForInput {
		return ErrJobNotWaiting
	}

	// 把用户答复并入任务配置，worker 重跑该步骤时读取
	cfg := job.Config
	if cfg == nil {
		cfg = model.JSONMap{}
	}
	if len(req.Groups) > 0 {
		groups := make(map[string]interface{}, len(req.Groups))
		for sample, label := range req.Groups {
			groups[sample] = label
		}
		cfg["groups"] = groups
	} else if req.Confirm {
		cfg["confirm_bisect"] = true
	} else {
		return ErrJobNotWaiting
	}

	if err := s.jobRepo.UpdateFields(jobID, map[string]interface{}{"config": cfg}); err != nil {
		return err
	}

	job, err = s.jobRepo.Resume(jobID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, job)
}

// Cancel 取消任务：pending 直接终止并退款，processing 置取消标记由 worker 处理
func (s *AnalysisService) Cancel(ctx context.Context, userID, jobID int64) error {
	job, err := s.getOwnedJob(userID, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobNotCancellable
	}

	switch job.Status {
	case model.JobStatusPending, model.JobStatusWaitingForInput:
		now := time.Now()
		if err := s.jobRepo.UpdateFields(jobID, map[string]interface{}{
			"status":       model.JobStatusCancelled,
			"completed_at": now,
		}); err != nil {
			return err
		}
		if cost := s.cfg.Credits.Costs[job.AnalysisType]; cost > 0 {
			s.userRepo.AddCredits(userID, cost, model.CreditTxnRefund, &jobID,
				fmt.Sprintf("任务 %d 取消退款", jobID))
		}
		// worker 可能已取出消息，留下标记让它跳过执行
		return s.jobQueue.RequestStop(ctx, jobID)
	default:
		return s.jobQueue.RequestStop(ctx, jobID)
	}
}

// ListGeneResults 分页返回基因级结果
func (s *AnalysisService) ListGeneResults(userID, jobID int64, page, pageSize int, significantOnly bool) ([]*dto.GeneResultItem, int64, error) {
	if _, err := s.getOwnedJob(userID, jobID); err != nil {
		return nil, 0, err
	}

	results, total, err := s.resultRepo.ListGeneResults(jobID, page, pageSize, significantOnly,
		s.cfg.Pipeline.Stats.FDRThreshold, s.cfg.Pipeline.Stats.Log2FCThreshold)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.GeneResultItem, len(results))
	for i, r := range results {
		items[i] = &dto.GeneResultItem{
			GeneID:         r.GeneID,
			GeneName:       r.GeneName,
			ClusterID:      r.ClusterID,
			Log2FoldChange: r.Log2FoldChange,
			PValue:         r.PValue,
			AdjustedPValue: r.AdjustedPValue,
			MeanExpression: r.MeanExpression,
		}
	}
	return items, total, nil
}

// ListPathwayResults 返回通路富集结果
func (s *AnalysisService) ListPathwayResults(userID, jobID int64) ([]*dto.PathwayResultItem, error) {
	if _, err := s.getOwnedJob(userID, jobID); err != nil {
		return nil, err
	}

	results, err := s.resultRepo.ListPathwayResults(jobID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.PathwayResultItem, len(results))
	for i, r := range results {
		items[i] = &dto.PathwayResultItem{
			PathwayID:       r.PathwayID,
			PathwayName:     r.PathwayName,
			Database:        r.Database,
			GeneSet:         r.GeneSet,
			PValue:          r.PValue,
			AdjustedPValue:  r.AdjustedPValue,
			OverlapCount:    r.OverlapCount,
			Genes:           r.Genes,
			EnrichmentScore: r.EnrichmentScore,
		}
	}
	return items, nil
}

// ListClusters 返回单细胞聚类结果
func (s *AnalysisService) ListClusters(userID, jobID int64) ([]*dto.ClusterItem, error) {
	if _, err := s.getOwnedJob(userID, jobID); err != nil {
		return nil, err
	}

	clusters, err := s.resultRepo.ListClusters(jobID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.ClusterItem, len(clusters))
	for i, c := range clusters {
		items[i] = &dto.ClusterItem{
			ClusterID:   c.ClusterID,
			CellType:    c.CellType,
			CellCount:   c.CellCount,
			MarkerGenes: c.MarkerGenes,
		}
	}
	return items, nil
}

func (s *AnalysisService) getOwnedJob(userID, jobID int64) (*model.AnalysisJob, error) {
	job, err := s.jobRepo.GetByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobPermission
	}
	return job, nil
}
