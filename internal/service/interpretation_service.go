package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/llm"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
)

var (
	ErrJobNotCompleted   = errors.New("任务尚未完成，无法生成解读")
	ErrNoModelConfigured = errors.New("未配置可用的解读模型")
)

const interpretationSystemPrompt = `你是一名资深的生物信息学分析师。用户会提供一次 RNA-seq 分析的结果摘要，
请基于摘要给出专业、谨慎的解读：说明主要发现、可能的生物学意义以及后续验证建议。
只依据给出的数据作答，不要编造摘要中不存在的基因或通路。使用中文回答。`

// interpretationFallback 模型调用失败时写入的固定回退文本，解读记录仍然落库
const interpretationFallback = "解读服务暂时不可用，请稍后重试或重新提问。"

// InterpretationService 基于已完成任务的结果生成 AI 解读
type InterpretationService struct {
	jobRepo    *repository.JobRepository
	resultRepo *repository.ResultRepository
	cfg        *config.Config
	newClient  func(mc *config.ModelConfig) llmChatter
}

type llmChatter interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func NewInterpretationService(jobRepo *repository.JobRepository, resultRepo *repository.ResultRepository, cfg *config.Config) *InterpretationService {
	return &InterpretationService{
		jobRepo:    jobRepo,
		resultRepo: resultRepo,
		cfg:        cfg,
		newClient: func(mc *config.ModelConfig) llmChatter {
			return llm.NewClient(mc)
		},
	}
}

// Create 为已完成任务生成一条解读记录。记录只追加，同一任务可多次提问。
func (s *InterpretationService) Create(ctx context.Context, userID, jobID int64, req *dto.CreateInterpretationRequest) (*dto.InterpretationItem, error) {
	job, err := s.jobRepo.GetByID(jobID)
	if err != nil {
		return nil, ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, ErrJobPermission
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	mc, err := s.resolveModel(req.ModelName)
	if err != nil {
		return nil, err
	}

	contextData, summary, err := s.buildContext(job)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	prompt.WriteString(fmt.Sprintf("分析类型：%s\n\n结果摘要：\n%s\n", job.AnalysisType, summary))
	if req.Question != "" {
		prompt.WriteString(fmt.Sprintf("\n用户的问题：%s\n", req.Question))
	} else {
		prompt.WriteString("\n请对以上结果给出整体解读。\n")
	}

	answer, err := s.newClient(mc).Chat(ctx, interpretationSystemPrompt, prompt.String())
	confidence := s.confidenceFor(contextData)
	if err != nil {
		log.Printf("LLM chat failed for job %d (model %s): %v", jobID, mc.Name, err)
		answer = interpretationFallback
		confidence = 0.1
	}

	interp := &model.AIInterpretation{
		JobID:        jobID,
		AnalysisType: req.AnalysisType,
		Question:     req.Question,
		Response:     answer,
		ContextData:  contextData,
		Confidence:   confidence,
		ModelName:    mc.Name,
	}
	if err := s.resultRepo.SaveInterpretation(interp); err != nil {
		return nil, err
	}
	return toInterpretationItem(interp), nil
}

// List 返回任务的全部解读记录，按时间倒序
func (s *InterpretationService) List(userID, jobID int64) ([]*dto.InterpretationItem, error) {
	job, err := s.jobRepo.GetByID(jobID)
	if err != nil {
		return nil, ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, ErrJobPermission
	}

	interps, err := s.resultRepo.ListInterpretations(jobID)
	if err != nil {
		return nil, err
	}
	items := make([]*dto.InterpretationItem, len(interps))
	for i, in := range interps {
		items[i] = toInterpretationItem(in)
	}
	return items, nil
}

func (s *InterpretationService) resolveModel(name string) (*config.ModelConfig, error) {
	if name != "" {
		if mc, ok := s.cfg.ModelFor(name); ok {
			return mc, nil
		}
		return nil, fmt.Errorf("未知的模型: %s", name)
	}
	if len(s.cfg.Models) == 0 {
		return nil, ErrNoModelConfigured
	}
	return &s.cfg.Models[0], nil
}

// buildContext 从数据库结果构建解读上下文：显著基因、富集通路与聚类概况
func (s *InterpretationService) buildContext(job *model.AnalysisJob) (model.JSONMap, string, error) {
	contextData := model.JSONMap{}
	var summary strings.Builder

	genes, total, err := s.resultRepo.ListGeneResults(job.ID, 1, 20, true,
		s.cfg.Pipeline.Stats.FDRThreshold, s.cfg.Pipeline.Stats.Log2FCThreshold)
	if err != nil {
		return nil, "", err
	}
	if total > 0 {
		contextData["significant_genes"] = total
		var lines []string
		for _, g := range genes {
			lines = append(lines, fmt.Sprintf("%s (log2FC=%.2f, padj=%.2e)",
				g.GeneID, g.Log2FoldChange, g.AdjustedPValue))
		}
		contextData["top_genes"] = lines
		summary.WriteString(fmt.Sprintf("共 %d 个显著差异基因，其中最显著的包括：%s。\n",
			total, strings.Join(lines, "；")))
	}

	pathways, err := s.resultRepo.ListPathwayResults(job.ID)
	if err != nil {
		return nil, "", err
	}
	if len(pathways) > 0 {
		top := pathways
		if len(top) > 10 {
			top = top[:10]
		}
		var lines []string
		for _, p := range top {
			lines = append(lines, fmt.Sprintf("%s [%s] (padj=%.2e, overlap=%d)",
				p.PathwayName, p.Database, p.AdjustedPValue, p.OverlapCount))
		}
		contextData["top_pathways"] = lines
		summary.WriteString(fmt.Sprintf("富集到 %d 条通路，排名靠前的有：%s。\n",
			len(pathways), strings.Join(lines, "；")))
	}

	clusters, err := s.resultRepo.ListClusters(job.ID)
	if err != nil {
		return nil, "", err
	}
	if len(clusters) > 0 {
		contextData["n_clusters"] = len(clusters)
		var lines []string
		for _, c := range clusters {
			markers := c.MarkerGenes
			if len(markers) > 5 {
				markers = markers[:5]
			}
			lines = append(lines, fmt.Sprintf("簇 %d（%d 个细胞，标志基因：%s）",
				c.ClusterID, c.CellCount, strings.Join(markers, "/")))
		}
		contextData["clusters"] = lines
		summary.WriteString(fmt.Sprintf("共识别 %d 个细胞簇：%s。\n",
			len(clusters), strings.Join(lines, "；")))
	}

	if len(job.Metrics) > 0 {
		contextData["job_metrics"] = map[string]interface{}(job.Metrics)
	}

	if summary.Len() == 0 {
		summary.WriteString("本次分析未产生显著的差异基因、通路或聚类结果。\n")
	}
	return contextData, summary.String(), nil
}

// confidenceFor 粗略置信度：可用的上下文越充分越高
func (s *InterpretationService) confidenceFor(contextData model.JSONMap) float64 {
	confidence := 0.3
	if _, ok := contextData["significant_genes"]; ok {
		confidence += 0.3
	}
	if _, ok := contextData["top_pathways"]; ok {
		confidence += 0.2
	}
	if _, ok := contextData["clusters"]; ok {
		confidence += 0.2
	}
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}

func toInterpretationItem(in *model.AIInterpretation) *dto.InterpretationItem {
	return &dto.InterpretationItem{
		ID:           in.ID,
		AnalysisType: in.AnalysisType,
		Question:     in.Question,
		Response:     in.Response,
		Confidence:   in.Confidence,
		ModelName:    in.ModelName,
		CreatedAt:    in.CreatedAt.Format(time.RFC3339),
	}
}
