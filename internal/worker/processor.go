package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/email"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/pubsub"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/queue"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/rnaseq"
)

// Processor 流水线任务处理器
type Processor struct {
	jobRepo     *repository.JobRepository
	datasetRepo *repository.DatasetRepository
	resultRepo  *repository.ResultRepository
	userRepo    *repository.UserRepository
	jobQueue    *queue.Queue
	publisher   *pubsub.Publisher
	artifacts   *ArtifactWriter
	runner      ToolRunner
	emailSvc    *email.Service // 可为 nil
	cfg         *config.Config
}

// NewProcessor 创建任务处理器
func NewProcessor(
	jobRepo *repository.JobRepository,
	datasetRepo *repository.DatasetRepository,
	resultRepo *repository.ResultRepository,
	userRepo *repository.UserRepository,
	jobQueue *queue.Queue,
	publisher *pubsub.Publisher,
	artifacts *ArtifactWriter,
	runner ToolRunner,
	emailSvc *email.Service,
	cfg *config.Config,
) *Processor {
	return &Processor{
		jobRepo:     jobRepo,
		datasetRepo: datasetRepo,
		resultRepo:  resultRepo,
		userRepo:    userRepo,
		jobQueue:    jobQueue,
		publisher:   publisher,
		artifacts:   artifacts,
		runner:      runner,
		emailSvc:    emailSvc,
		cfg:         cfg,
	}
}

// pipelineState 单次执行期间各步骤共享的中间产物
type pipelineState struct {
	dataset     *model.Dataset
	workDir     string
	sampleNames []string
	trimmedR1   map[string]string
	trimmedR2   map[string]string
	samPaths    []string

	matrix     *rnaseq.Matrix // bulk counts 或单细胞基因×细胞矩阵
	normalized *rnaseq.Matrix
	pca        *rnaseq.PCAResult
	clustering *rnaseq.ClusteringResult
	groups     *rnaseq.GroupAssignment
	de         *rnaseq.DEResult

	scFiltered *rnaseq.Matrix
	hvg        *rnaseq.Matrix
	scScores   [][]float64
	knn        [][]int
	embedding  [][2]float64
	scLabels   []int
}

// stepOutcome 单步执行结果
type stepOutcome struct {
	metrics  model.JSONMap
	outputs  []string
	waiting  bool // 需要用户确认，任务转入 waiting_for_input
	question string
}

// Process 处理一条队列消息，驱动任务的全部剩余步骤
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.jobRepo.GetByID(msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job %d: %w", msg.JobID, err)
	}

	if job.IsTerminal() {
		log.Printf("Job %d: already %s, skipping", job.ID, job.Status)
		p.jobQueue.ClearStop(ctx, job.ID)
		return nil
	}

	// Redis 租约保证重复入队的消息不会并发执行同一任务
	acquired, err := p.jobQueue.AcquireLease(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to acquire lease for job %d: %w", job.ID, err)
	}
	if !acquired {
		log.Printf("Job %d: lease held by another worker, skipping", job.ID)
		return nil
	}
	defer p.jobQueue.ReleaseLease(context.Background(), job.ID)

	switch job.Status {
	case model.JobStatusPending:
		job, err = p.jobRepo.Claim(job.ID)
		if err != nil {
			if err == repository.ErrJobNotClaimable {
				log.Printf("Job %d: claimed by another worker, skipping", msg.JobID)
				return nil
			}
			return fmt.Errorf("failed to claim job %d: %w", msg.JobID, err)
		}
	case model.JobStatusProcessing:
		// 用户确认后恢复执行
		log.Printf("Job %d: resuming", job.ID)
	default:
		log.Printf("Job %d: status %s not runnable, skipping", job.ID, job.Status)
		return nil
	}

	dataset, err := p.datasetRepo.GetByID(job.DatasetID)
	if err != nil {
		return p.failJob(ctx, job, 0, "", newPipelineError(
			"数据集不存在或已删除", fmt.Errorf("failed to get dataset %d: %w", job.DatasetID, err), false))
	}

	steps, err := p.jobRepo.GetSteps(job.ID)
	if err != nil || len(steps) == 0 {
		return p.failJob(ctx, job, 0, "", newPipelineError(
			"任务步骤缺失", fmt.Errorf("failed to get steps for job %d: %w", job.ID, err), false))
	}

	st := &pipelineState{
		dataset:   dataset,
		workDir:   filepath.Join(p.cfg.Pipeline.WorkDir, fmt.Sprintf("job_%d", job.ID)),
		trimmedR1: make(map[string]string),
		trimmedR2: make(map[string]string),
	}
	if err := os.MkdirAll(st.workDir, 0755); err != nil {
		return p.failJob(ctx, job, 0, "", newPipelineError(
			"服务器存储异常，请稍后重试", fmt.Errorf("failed to create work dir: %w", err), true))
	}

	total := len(steps)
	completed := 0
	for _, s := range steps {
		if s.Status == model.StepStatusCompleted {
			completed++
		}
	}

	for _, step := range steps {
		if step.Status == model.StepStatusCompleted {
			continue
		}

		// 步骤间检查取消标记
		if p.jobQueue.StopRequested(ctx, job.ID) {
			return p.cancelJob(ctx, job, step)
		}

		now := time.Now()
		step.Status = model.StepStatusRunning
		step.StartedAt = &now
		step.ErrorMessage = ""
		p.jobRepo.UpdateStep(step)

		p.publishProgress(ctx, job, step.StepNumber, step.Name, model.JobStatusProcessing,
			progressPercent(completed, total), "")
		log.Printf("Job %d: step %d/%d %s started", job.ID, step.StepNumber, total, step.Name)

		outcome, perr := p.runStepWithRetry(ctx, job, st, step)
		if perr != nil {
			return p.failJob(ctx, job, step.StepNumber, step.Name, perr)
		}

		if outcome.waiting {
			// 回退为 pending，等用户确认后整步重跑
			step.Status = model.StepStatusPending
			step.StartedAt = nil
			p.jobRepo.UpdateStep(step)

			p.jobRepo.UpdateFields(job.ID, map[string]interface{}{
				"status":           model.JobStatusWaitingForInput,
				"pending_question": outcome.question,
			})
			p.publishProgress(ctx, job, step.StepNumber, step.Name, model.JobStatusWaitingForInput,
				progressPercent(completed, total), "")
			log.Printf("Job %d: step %s waiting for user input", job.ID, step.Name)
			return nil
		}

		completed++
		finished := time.Now()
		step.Status = model.StepStatusCompleted
		step.CompletedAt = &finished
		step.DurationSeconds = finished.Sub(*step.StartedAt).Seconds()
		step.Metrics = outcome.metrics
		step.OutputFiles = outcome.outputs

		jobFields := map[string]interface{}{
			"current_step":        step.StepNumber,
			"current_step_name":   step.Name,
			"progress_percentage": progressPercent(completed, total),
		}
		if err := p.jobRepo.UpdateStepWithJobProgress(step, jobFields); err != nil {
			log.Printf("Job %d: failed to persist step %s: %v", job.ID, step.Name, err)
		}

		p.publishProgress(ctx, job, step.StepNumber, step.Name, model.JobStatusProcessing,
			progressPercent(completed, total), "")
		log.Printf("Job %d: step %d/%d %s completed in %.1fs", job.ID, step.StepNumber, total, step.Name, step.DurationSeconds)
	}

	return p.completeJob(ctx, job, st, total)
}

// runStepWithRetry 执行单步，暂时性错误按配置退避重试
func (p *Processor) runStepWithRetry(ctx context.Context, job *model.AnalysisJob, st *pipelineState, step *model.PipelineStep) (*stepOutcome, *PipelineError) {
	retry := p.cfg.Pipeline.Retry
	var lastErr *PipelineError

	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(retry.BackoffSeconds) * time.Second
			if retry.BackoffMode == "exponential" {
				backoff = time.Duration(float64(retry.BackoffSeconds)*math.Pow(2, float64(attempt-1))) * time.Second
			}
			log.Printf("Job %d: step %s retry %d/%d after %v", job.ID, step.Name, attempt, retry.MaxRetries, backoff)

			// 退避期间回到 pending，重试开始时再转 running
			step.Status = model.StepStatusPending
			step.RetryCount = attempt
			p.jobRepo.UpdateStep(step)

			select {
			case <-ctx.Done():
				return nil, newPipelineError("任务被中断", ctx.Err(), false)
			case <-time.After(backoff):
			}

			step.Status = model.StepStatusRunning
			p.jobRepo.UpdateStep(step)
		}

		outcome, perr := p.runStep(ctx, job, st, step.Name)
		if perr == nil {
			return outcome, nil
		}
		lastErr = perr
		log.Printf("Job %d: step %s attempt %d failed: %v", job.ID, step.Name, attempt+1, perr.RawError)

		if !perr.Transient {
			return nil, perr
		}
	}

	return nil, lastErr
}

// runStep 按步骤名分派
func (p *Processor) runStep(ctx context.Context, job *model.AnalysisJob, st *pipelineState, name string) (*stepOutcome, *PipelineError) {
	switch name {
	case StepQualityControl:
		if st.dataset.Kind == model.DatasetKindSingleCell {
			return p.stepSCQualityControl(job, st)
		}
		return p.stepQualityControl(job, st)
	case StepTrimming:
		return p.stepTrimming(ctx, job, st)
	case StepAlignment:
		return p.stepAlignment(ctx, job, st)
	case StepQuantification:
		return p.stepQuantification(ctx, job, st)
	case StepLoadMatrix:
		return p.stepLoadMatrix(job, st)
	case StepPCAClustering:
		return p.stepPCAClustering(job, st)
	case StepDiffExpression:
		return p.stepDiffExpression(job, st)
	case StepPathway:
		return p.stepPathwayEnrichment(job, st)
	case StepSignatureScoring:
		return p.stepSignatureScoring(job, st)
	case StepCellFiltering:
		return p.stepCellFiltering(job, st)
	case StepNormalization:
		return p.stepNormalization(job, st)
	case StepHVGSelection:
		return p.stepHVGSelection(job, st)
	case StepPCAEmbedding:
		return p.stepPCAEmbedding(job, st)
	case StepGraphClustering:
		return p.stepGraphClustering(job, st)
	case StepMarkerGenes:
		return p.stepMarkerGenes(job, st)
	default:
		return nil, newPipelineError(
			"未知的分析步骤", fmt.Errorf("unknown step %q", name), false)
	}
}

// completeJob 收尾：汇总指标、更新状态、推送与通知、清理工作目录
func (p *Processor) completeJob(ctx context.Context, job *model.AnalysisJob, st *pipelineState, totalSteps int) error {
	completedAt := time.Now()
	metrics := p.aggregateMetrics(job.ID)

	fields := map[string]interface{}{
		"status":              model.JobStatusCompleted,
		"progress_percentage": 100,
		"current_step":        totalSteps,
		"completed_at":        completedAt,
	}
	if job.StartedAt != nil {
		fields["elapsed_seconds"] = int(completedAt.Sub(*job.StartedAt).Seconds())
	}
	if len(metrics) > 0 {
		fields["metrics"] = metrics
	}
	if err := p.jobRepo.UpdateFields(job.ID, fields); err != nil {
		return fmt.Errorf("failed to mark job %d completed: %w", job.ID, err)
	}

	p.publishProgress(ctx, job, totalSteps, "done", model.JobStatusCompleted, 100, "")
	p.notify(job, true, "")
	p.jobQueue.ClearStop(ctx, job.ID)

	os.RemoveAll(st.workDir)
	log.Printf("Job %d: completed", job.ID)
	return nil
}

// failJob 标记失败、退还积分、推送与通知
func (p *Processor) failJob(ctx context.Context, job *model.AnalysisJob, stepNumber int, stepName string, perr *PipelineError) error {
	log.Printf("Job %d: failed at step %s: %v", job.ID, stepName, perr.RawError)

	completedAt := time.Now()
	fields := map[string]interface{}{
		"status":        model.JobStatusFailed,
		"error_message": perr.UserMessage,
		"completed_at":  completedAt,
	}
	if job.StartedAt != nil {
		fields["elapsed_seconds"] = int(completedAt.Sub(*job.StartedAt).Seconds())
	}
	p.jobRepo.UpdateFields(job.ID, fields)

	if stepNumber > 0 {
		if steps, err := p.jobRepo.GetSteps(job.ID); err == nil {
			for _, s := range steps {
				if s.StepNumber == stepNumber {
					s.Status = model.StepStatusFailed
					s.ErrorMessage = perr.UserMessage
					s.CompletedAt = &completedAt
					if s.StartedAt != nil {
						s.DurationSeconds = completedAt.Sub(*s.StartedAt).Seconds()
					}
					p.jobRepo.UpdateStep(s)
					break
				}
			}
		}
	}

	p.refundCredits(job)
	p.publishProgress(ctx, job, stepNumber, stepName, model.JobStatusFailed, job.ProgressPercentage, perr.UserMessage)
	p.notify(job, false, perr.UserMessage)
	p.jobQueue.ClearStop(ctx, job.ID)

	return perr
}

// cancelJob 响应用户取消请求
func (p *Processor) cancelJob(ctx context.Context, job *model.AnalysisJob, step *model.PipelineStep) error {
	log.Printf("Job %d: cancelled before step %s", job.ID, step.Name)

	completedAt := time.Now()
	fields := map[string]interface{}{
		"status":       model.JobStatusCancelled,
		"completed_at": completedAt,
	}
	if job.StartedAt != nil {
		fields["elapsed_seconds"] = int(completedAt.Sub(*job.StartedAt).Seconds())
	}
	p.jobRepo.UpdateFields(job.ID, fields)

	p.refundCredits(job)
	p.publishProgress(ctx, job, step.StepNumber, step.Name, model.JobStatusCancelled, job.ProgressPercentage, "")
	p.jobQueue.ClearStop(ctx, job.ID)
	return nil
}

// refundCredits 失败或取消时退还本次扣除的积分
func (p *Processor) refundCredits(job *model.AnalysisJob) {
	cost := p.cfg.Credits.Costs[job.AnalysisType]
	if cost <= 0 {
		return
	}
	jobID := job.ID
	if err := p.userRepo.AddCredits(job.UserID, cost, model.CreditTxnRefund, &jobID,
		fmt.Sprintf("任务 %d 未完成退款", job.ID)); err != nil {
		log.Printf("Job %d: failed to refund %d credits: %v", job.ID, cost, err)
	}
}

// aggregateMetrics 把各步骤指标合并为任务级摘要，并提炼比对与定量的顶层汇总
func (p *Processor) aggregateMetrics(jobID int64) model.JSONMap {
	steps, err := p.jobRepo.GetSteps(jobID)
	if err != nil {
		return nil
	}
	merged := model.JSONMap{}
	for _, s := range steps {
		if len(s.Metrics) == 0 {
			continue
		}
		merged[s.Name] = map[string]interface{}(s.Metrics)
	}

	if align, ok := merged[StepAlignment].(map[string]interface{}); ok {
		var totalReads, mappedReads float64
		for _, v := range align {
			sample, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			totalReads += toFloat(sample["total_reads"])
			mappedReads += toFloat(sample["aligned_once"]) + toFloat(sample["aligned_multi"])
		}
		merged["total_reads"] = totalReads
		merged["mapped_reads"] = mappedReads
		if totalReads > 0 {
			merged["alignment_rate"] = mappedReads / totalReads * 100
		}
	}
	if quant, ok := merged[StepQuantification].(map[string]interface{}); ok {
		merged["genes_quantified"] = toFloat(quant["genes"])
	}
	return merged
}

// toFloat 兼容内存中的 int 与 JSON 回读后的 float64
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func (p *Processor) publishProgress(ctx context.Context, job *model.AnalysisJob, stepNumber int, stepName, status string, progress int, errMsg string) {
	err := p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		UserID:    job.UserID,
		DatasetID: job.DatasetID,
		JobID:     job.ID,
		Status:    status,
		Step:      stepNumber,
		StepName:  stepName,
		Progress:  progress,
		Error:     errMsg,
	})
	if err != nil {
		log.Printf("Job %d: failed to publish progress: %v", job.ID, err)
	}
}

// notify 发送任务结果邮件，失败仅记日志
func (p *Processor) notify(job *model.AnalysisJob, success bool, reason string) {
	if p.emailSvc == nil {
		return
	}
	user, err := p.userRepo.GetByID(job.UserID)
	if err != nil || user.Email == nil || !user.EmailVerified {
		return
	}

	if success {
		err = p.emailSvc.SendJobCompleted(*user.Email, user.Username, job.ID, job.AnalysisType)
	} else {
		err = p.emailSvc.SendJobFailed(*user.Email, user.Username, job.ID, job.AnalysisType, reason)
	}
	if err != nil {
		log.Printf("Job %d: failed to send notification email: %v", job.ID, err)
	}
}

func progressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}
