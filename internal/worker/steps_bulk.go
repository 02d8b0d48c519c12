package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/rnaseq"
)

// singleConditionQuestion waiting_for_input 时暴露给用户的问题
const singleConditionQuestion = "数据集只有单一实验条件，无法直接做两组差异表达。" +
	"请为各样本指定分组，或确认按样本顺序对半拆分继续分析。"

// stepQualityControl 逐样本扫描 FASTQ，统计读数与质量
func (p *Processor) stepQualityControl(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if len(st.dataset.Samples) == 0 {
		return nil, newPipelineError("数据集不包含测序文件",
			fmt.Errorf("dataset %d has no samples", st.dataset.ID), false)
	}

	metrics := model.JSONMap{}
	for i := range st.dataset.Samples {
		s := &st.dataset.Samples[i]

		stats, err := rnaseq.ScanFastq(s.Read1Path)
		if err != nil {
			return nil, newPipelineError("测序文件缺失或无法读取，请重新上传",
				fmt.Errorf("scan %s: %w", s.Read1Path, err), false)
		}
		if s.Read2Path != "" {
			stats2, err := rnaseq.ScanFastq(s.Read2Path)
			if err != nil {
				return nil, newPipelineError("测序文件缺失或无法读取，请重新上传",
					fmt.Errorf("scan %s: %w", s.Read2Path, err), false)
			}
			stats.TotalReads += stats2.TotalReads
			stats.TotalBases += stats2.TotalBases
			stats.MeanQuality = (stats.MeanQuality + stats2.MeanQuality) / 2
			stats.GCPercent = (stats.GCPercent + stats2.GCPercent) / 2
		}

		metrics[s.SampleID] = map[string]interface{}{
			"total_reads":  stats.TotalReads,
			"total_bases":  stats.TotalBases,
			"mean_quality": stats.MeanQuality,
			"gc_percent":   stats.GCPercent,
			"mean_length":  stats.MeanLength,
		}
	}

	url, perr := p.writeJSONArtifact(job.ID, StepQualityControl, "qc_summary.json", metrics)
	if perr != nil {
		return nil, perr
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepTrimming 用 fastp 逐样本修剪低质量读段
func (p *Processor) stepTrimming(ctx context.Context, job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	outDir := filepath.Join(st.workDir, "trimmed")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, newPipelineError("服务器存储异常，请稍后重试",
			fmt.Errorf("failed to create trim dir: %w", err), true)
	}

	tool := toolPath(p.cfg.Pipeline.Tools.Fastp, "fastp")
	metrics := model.JSONMap{}
	var outputs []string

	for i := range st.dataset.Samples {
		s := &st.dataset.Samples[i]
		cmd := BuildFastpCommand(&p.cfg.Pipeline, s, outDir)

		if _, perr := p.runner.Run(ctx, tool, cmd.Args, st.workDir); perr != nil {
			return nil, perr
		}

		report, err := ParseFastpReport(cmd.JSONReport)
		if err != nil {
			return nil, newPipelineError("修剪结果解析失败，请稍后重试",
				fmt.Errorf("sample %s: %w", s.SampleID, err), true)
		}

		st.trimmedR1[s.SampleID] = cmd.TrimmedR1
		if cmd.TrimmedR2 != "" {
			st.trimmedR2[s.SampleID] = cmd.TrimmedR2
		}
		outputs = append(outputs, cmd.TrimmedR1)
		metrics[s.SampleID] = map[string]interface{}{
			"reads_before":     report.ReadsBefore,
			"reads_after":      report.ReadsAfter,
			"bases_before":     report.BasesBefore,
			"bases_after":      report.BasesAfter,
			"q30_rate_after":   report.Q30RateAfter,
			"duplication_rate": report.DuplicationRate,
		}
	}

	return &stepOutcome{metrics: metrics, outputs: outputs}, nil
}

// stepAlignment 用 HISAT2 逐样本比对参考基因组
func (p *Processor) stepAlignment(ctx context.Context, job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	org, err := p.cfg.OrganismFor(st.dataset.Organism)
	if err != nil {
		return nil, newPipelineError(err.Error(),
			fmt.Errorf("organism config: %w", err), false)
	}

	reference := ""
	if v, ok := job.Config["reference"].(string); ok {
		reference = v
	}

	outDir := filepath.Join(st.workDir, "aligned")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, newPipelineError("服务器存储异常，请稍后重试",
			fmt.Errorf("failed to create align dir: %w", err), true)
	}

	tool := toolPath(p.cfg.Pipeline.Tools.Hisat2, "hisat2")
	metrics := model.JSONMap{}
	st.samPaths = st.samPaths[:0]
	st.sampleNames = st.sampleNames[:0]

	for i := range st.dataset.Samples {
		s := &st.dataset.Samples[i]

		r1, ok := st.trimmedR1[s.SampleID]
		if !ok {
			// 无修剪产物时直接用原始读段
			r1 = s.Read1Path
		}
		r2 := st.trimmedR2[s.SampleID]
		if r2 == "" && s.Read2Path != "" && !ok {
			r2 = s.Read2Path
		}

		cmd := BuildHisat2Command(&p.cfg.Pipeline, org, reference, s, r1, r2, outDir)
		output, perr := p.runner.Run(ctx, tool, cmd.Args, st.workDir)
		if perr != nil {
			return nil, perr
		}

		summary, err := ParseHisat2Summary(output)
		if err != nil {
			return nil, newPipelineError("比对统计异常，请稍后重试",
				fmt.Errorf("sample %s: %w", s.SampleID, err), true)
		}

		st.samPaths = append(st.samPaths, cmd.SAMPath)
		st.sampleNames = append(st.sampleNames, s.SampleID)
		metrics[s.SampleID] = map[string]interface{}{
			"total_reads":    summary.TotalReads,
			"aligned_once":   summary.AlignedOnce,
			"aligned_multi":  summary.AlignedMulti,
			"unaligned":      summary.AlignedZero,
			"alignment_rate": summary.OverallRate,
		}
	}

	return &stepOutcome{metrics: metrics, outputs: append([]string{}, st.samPaths...)}, nil
}

// stepQuantification 用 featureCounts 对全部样本一次定量，产出 counts 矩阵
func (p *Processor) stepQuantification(ctx context.Context, job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if len(st.samPaths) == 0 {
		return nil, newPipelineError("比对产物缺失，无法定量",
			fmt.Errorf("no SAM files for job %d", job.ID), false)
	}

	org, err := p.cfg.OrganismFor(st.dataset.Organism)
	if err != nil {
		return nil, newPipelineError(err.Error(),
			fmt.Errorf("organism config: %w", err), false)
	}

	pairedEnd := len(st.trimmedR2) > 0 || hasPairedSamples(st.dataset.Samples)
	cmd := BuildFeatureCountsCommand(&p.cfg.Pipeline, org, st.samPaths, pairedEnd, st.workDir)

	tool := toolPath(p.cfg.Pipeline.Tools.FeatureCounts, "featureCounts")
	if _, perr := p.runner.Run(ctx, tool, cmd.Args, st.workDir); perr != nil {
		return nil, perr
	}

	m, err := ParseFeatureCountsMatrix(cmd.CountsPath, st.sampleNames)
	if err != nil {
		return nil, newPipelineError("定量结果解析失败，请稍后重试",
			fmt.Errorf("parse counts: %w", err), true)
	}
	st.matrix = m

	var buf bytes.Buffer
	if err := m.WriteCSV(&buf); err != nil {
		return nil, newPipelineError("保存定量结果失败，请稍后重试",
			fmt.Errorf("write counts csv: %w", err), true)
	}
	url, perr := p.artifacts.WriteCSV(job.ID, StepQuantification, "counts.csv", buf.Bytes())
	if perr != nil {
		return nil, perr
	}

	var totalCounts float64
	for _, row := range m.Values {
		for _, v := range row {
			totalCounts += v
		}
	}
	metrics := model.JSONMap{
		"genes":        m.NGenes(),
		"samples":      m.NSamples(),
		"total_counts": totalCounts,
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepLoadMatrix 载入表达矩阵并按最低表达过滤
func (p *Processor) stepLoadMatrix(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureMatrix(st); perr != nil {
		return nil, perr
	}

	before := st.matrix.NGenes()
	st.matrix = st.matrix.FilterByMeanExpression(p.cfg.Pipeline.Stats.MinMeanExpression)
	st.normalized = st.matrix.CPMNormalize().Log2Transform()

	if st.matrix.NGenes() == 0 {
		return nil, newPipelineError("过滤后矩阵为空，请检查输入数据",
			fmt.Errorf("all %d genes filtered out", before), false)
	}

	metrics := model.JSONMap{
		"genes_before_filter": before,
		"genes_after_filter":  st.matrix.NGenes(),
		"samples":             st.matrix.NSamples(),
	}
	return &stepOutcome{metrics: metrics}, nil
}

// stepPCAClustering 主成分分析加轮廓系数选 k 的 k-means 聚类
func (p *Processor) stepPCAClustering(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureNormalized(st); perr != nil {
		return nil, perr
	}

	pca, err := rnaseq.PCA(st.normalized, 10)
	if err != nil {
		return nil, newPipelineError("主成分分析失败，请检查输入数据",
			fmt.Errorf("pca: %w", err), false)
	}
	st.pca = pca
	st.clustering = rnaseq.ChooseKBySilhouette(pca.Scores, p.cfg.Pipeline.Stats.RandomSeed)

	payload := map[string]interface{}{
		"samples":    st.normalized.Samples,
		"pca":        pca,
		"clustering": st.clustering,
	}
	url, perr := p.writeJSONArtifact(job.ID, StepPCAClustering, "pca_clustering.json", payload)
	if perr != nil {
		return nil, perr
	}

	metrics := model.JSONMap{
		"n_components":       pca.NComponents,
		"cumulative_var_pc5": pca.CumulativeVarPC5,
		"k":                  st.clustering.K,
		"silhouette":         st.clustering.Silhouette,
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepDiffExpression 两组 Welch t 检验差异表达，BH 校正。
// 只有单一条件时按配置暂停等待用户确认或按顺序对半拆分。
func (p *Processor) stepDiffExpression(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureMatrix(st); perr != nil {
		return nil, perr
	}

	groups, waiting := p.resolveGroups(job, st)
	if waiting {
		return &stepOutcome{waiting: true, question: singleConditionQuestion}, nil
	}
	st.groups = groups

	opts := rnaseq.DEOptions{
		FDRThreshold:    p.cfg.Pipeline.Stats.FDRThreshold,
		Log2FCThreshold: p.cfg.Pipeline.Stats.Log2FCThreshold,
		MinMeanCount:    p.cfg.Pipeline.Stats.MinMeanExpression,
	}
	// 任务配置可覆盖默认统计阈值
	if v, ok := configFloat(job.Config, "fdr_threshold"); ok {
		opts.FDRThreshold = v
	}
	if v, ok := configFloat(job.Config, "log2fc_threshold"); ok {
		opts.Log2FCThreshold = v
	}
	if v, ok := configFloat(job.Config, "min_mean_expression"); ok {
		opts.MinMeanCount = v
	}
	st.de = rnaseq.DifferentialExpression(st.matrix, groups, opts)

	rows := make([]*model.AnalysisResult, 0, len(st.de.Genes))
	for _, g := range st.de.Genes {
		rows = append(rows, &model.AnalysisResult{
			JobID:          job.ID,
			GeneID:         g.Gene,
			ClusterID:      -1,
			Log2FoldChange: g.Log2FoldChange,
			PValue:         g.PValue,
			AdjustedPValue: g.AdjustedPValue,
			MeanExpression: g.MeanExpression,
		})
	}
	if err := p.resultRepo.SaveGeneResults(rows); err != nil {
		return nil, newPipelineError("保存差异表达结果失败，请稍后重试",
			fmt.Errorf("save gene results: %w", err), true)
	}

	url, perr := p.writeJSONArtifact(job.ID, StepDiffExpression, "de_summary.json", map[string]interface{}{
		"group1":            st.de.Group1Name,
		"group2":            st.de.Group2Name,
		"synthetic_groups":  st.de.SyntheticGroups,
		"tested_genes":      st.de.TestedGenes,
		"significant_count": st.de.SignificantCount,
		"upregulated_top":   st.de.UpregulatedTop,
		"downregulated_top": st.de.DownregulatedTop,
	})
	if perr != nil {
		return nil, perr
	}

	metrics := model.JSONMap{
		"tested_genes":      st.de.TestedGenes,
		"significant_count": st.de.SignificantCount,
		"group1":            st.de.Group1Name,
		"group2":            st.de.Group2Name,
		"synthetic_groups":  st.de.SyntheticGroups,
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepPathwayEnrichment 对显著基因（全部/上调/下调）做各数据库的超几何富集
func (p *Processor) stepPathwayEnrichment(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if st.de == nil {
		return nil, newPipelineError("差异表达结果缺失，无法做通路富集",
			fmt.Errorf("no DE result in memory for job %d", job.ID), false)
	}

	up, down := true, false
	inputs := map[string][]string{
		"all":  st.de.SignificantGenes(nil),
		"up":   st.de.SignificantGenes(&up),
		"down": st.de.SignificantGenes(&down),
	}
	background := st.matrix.Genes
	opts := rnaseq.EnrichOptions{
		PathwayFDR: p.cfg.Pipeline.Stats.PathwayFDR,
		TopN:       p.cfg.Pipeline.Stats.TopPathways,
	}

	var rows []*model.PathwayResult
	var allEnriched []rnaseq.EnrichedPathway
	var skippedDBs []string
	for _, dbCfg := range p.cfg.Pipeline.PathwayDBs {
		db, err := rnaseq.LoadGMT(dbCfg.Name, dbCfg.Path)
		if err != nil {
			// 单个数据库加载失败只跳过该库，其余照常富集
			log.Printf("Job %d: skipping pathway database %s: %v", job.ID, dbCfg.Name, err)
			skippedDBs = append(skippedDBs, dbCfg.Name)
			continue
		}

		for _, tag := range []string{"all", "up", "down"} {
			enriched := db.Enrich(inputs[tag], background, tag, opts)
			allEnriched = append(allEnriched, enriched...)
			for _, e := range enriched {
				rows = append(rows, &model.PathwayResult{
					JobID:           job.ID,
					PathwayID:       e.PathwayID,
					Database:        e.Database,
					PathwayName:     e.PathwayName,
					GeneSet:         e.GeneSet,
					PValue:          e.PValue,
					AdjustedPValue:  e.AdjustedPValue,
					OverlapCount:    e.OverlapCount,
					Genes:           e.Genes,
					EnrichmentScore: e.EnrichmentScore,
				})
			}
		}
	}

	if len(p.cfg.Pipeline.PathwayDBs) > 0 && len(skippedDBs) == len(p.cfg.Pipeline.PathwayDBs) {
		return nil, newPipelineError("通路数据库全部加载失败，请联系管理员",
			fmt.Errorf("all %d pathway databases failed to load", len(skippedDBs)), false)
	}

	// 同一通路在 all/up/down 中重复富集时只保留校正 p 值最小的一条，
	// 满足 (job_id, pathway_id, database) 唯一约束
	rows = dedupePathways(rows)

	if err := p.resultRepo.SavePathwayResults(rows); err != nil {
		return nil, newPipelineError("保存通路富集结果失败，请稍后重试",
			fmt.Errorf("save pathway results: %w", err), true)
	}

	url, perr := p.writeJSONArtifact(job.ID, StepPathway, "pathways.json", allEnriched)
	if perr != nil {
		return nil, perr
	}

	metrics := model.JSONMap{
		"databases":         len(p.cfg.Pipeline.PathwayDBs),
		"enriched_pathways": len(rows),
	}
	if len(skippedDBs) > 0 {
		metrics["skipped_databases"] = skippedDBs
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepSignatureScoring 计算基因签名得分；重叠不足的签名跳过而不失败
func (p *Processor) stepSignatureScoring(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureNormalized(st); perr != nil {
		return nil, perr
	}

	var significant []string
	if st.de != nil {
		significant = st.de.SignificantGenes(nil)
	}

	results, skipped := rnaseq.ScoreSignatures(p.cfg.Pipeline.Signatures, st.normalized, significant)

	url, perr := p.writeJSONArtifact(job.ID, StepSignatureScoring, "signatures.json", map[string]interface{}{
		"results": results,
		"skipped": skipped,
	})
	if perr != nil {
		return nil, perr
	}

	metrics := model.JSONMap{
		"scored":  len(results),
		"skipped": skipped,
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// ensureMatrix 保证 st.matrix 可用：内存中没有则从矩阵文件或定量产物载入
func (p *Processor) ensureMatrix(st *pipelineState) *PipelineError {
	if st.matrix != nil {
		return nil
	}

	if st.dataset.MatrixPath != "" {
		m, err := rnaseq.LoadMatrix(st.dataset.MatrixPath)
		if err != nil {
			return newPipelineError("表达矩阵缺失或格式错误，请重新上传",
				fmt.Errorf("load matrix %s: %w", st.dataset.MatrixPath, err), false)
		}
		st.matrix = m
		return nil
	}

	// 综合分析恢复执行时从定量产物载入
	countsPath := filepath.Join(st.workDir, "counts.txt")
	if _, err := os.Stat(countsPath); err == nil {
		names := make([]string, 0, len(st.dataset.Samples))
		for _, s := range st.dataset.Samples {
			names = append(names, s.SampleID)
		}
		m, err := ParseFeatureCountsMatrix(countsPath, names)
		if err == nil {
			st.matrix = m
			return nil
		}
	}

	return newPipelineError("表达矩阵缺失，请先完成上游定量或上传矩阵",
		fmt.Errorf("no matrix available for dataset %d", st.dataset.ID), false)
}

// ensureNormalized 保证归一化矩阵可用
func (p *Processor) ensureNormalized(st *pipelineState) *PipelineError {
	if st.normalized != nil {
		return nil
	}
	if perr := p.ensureMatrix(st); perr != nil {
		return perr
	}
	st.normalized = st.matrix.CPMNormalize().Log2Transform()
	return nil
}

// resolveGroups 推导差异表达分组。返回 waiting=true 时需要用户确认。
func (p *Processor) resolveGroups(job *model.AnalysisJob, st *pipelineState) (*rnaseq.GroupAssignment, bool) {
	// 用户通过 resume 指定的显式分组优先
	if g := groupsFromConfig(job, st.matrix.Samples); g != nil {
		return g, false
	}

	conditions := conditionsOf(st.dataset)
	groups := rnaseq.DeriveGroups(st.matrix.Samples, conditions)

	if groups.Synthetic {
		if confirmed, _ := job.Config["confirm_bisect"].(bool); confirmed {
			return groups, false
		}
		if p.cfg.Pipeline.Stats.OnSingleCondition == "ask" {
			return nil, true
		}
	}
	return groups, false
}

// groupsFromConfig 从 job.Config["groups"]（样本 -> 组名）构造分组
func groupsFromConfig(job *model.AnalysisJob, samples []string) *rnaseq.GroupAssignment {
	raw, ok := job.Config["groups"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}

	labelOf := make(map[string]string, len(raw))
	labelSet := make(map[string]bool)
	for sample, v := range raw {
		label, ok := v.(string)
		if !ok || label == "" {
			continue
		}
		labelOf[sample] = label
		labelSet[label] = true
	}
	if len(labelSet) != 2 {
		return nil
	}

	labels := make([]string, 0, 2)
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	g := &rnaseq.GroupAssignment{Group1Name: labels[0], Group2Name: labels[1]}
	for i, sample := range samples {
		switch labelOf[sample] {
		case labels[0]:
			g.Group1 = append(g.Group1, i)
		case labels[1]:
			g.Group2 = append(g.Group2, i)
		}
	}
	if len(g.Group1) == 0 || len(g.Group2) == 0 {
		return nil
	}
	return g
}

// configFloat 读任务配置里的数值项，JSON 反序列化后数值一律是 float64
func configFloat(cfg model.JSONMap, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// conditionsOf 从样本声明或数据集元数据取样本条件标签
func conditionsOf(ds *model.Dataset) map[string]string {
	conditions := make(map[string]string)
	for _, s := range ds.Samples {
		if s.Condition != "" {
			conditions[s.SampleID] = s.Condition
		}
	}
	if len(conditions) > 0 {
		return conditions
	}

	if raw, ok := ds.Metadata["conditions"].(map[string]interface{}); ok {
		for sample, v := range raw {
			if label, ok := v.(string); ok && label != "" {
				conditions[sample] = label
			}
		}
	}
	return conditions
}

// dedupePathways 每个 (pathway_id, database) 只保留校正 p 值最小的行
func dedupePathways(rows []*model.PathwayResult) []*model.PathwayResult {
	best := make(map[string]*model.PathwayResult, len(rows))
	var order []string
	for _, r := range rows {
		key := r.Database + "\x00" + r.PathwayID
		if cur, ok := best[key]; !ok {
			best[key] = r
			order = append(order, key)
		} else if r.AdjustedPValue < cur.AdjustedPValue {
			best[key] = r
		}
	}
	out := make([]*model.PathwayResult, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// writeJSONArtifact 序列化并保存 JSON 产物
func (p *Processor) writeJSONArtifact(jobID int64, step, name string, payload interface{}) (string, *PipelineError) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", newPipelineError("保存分析结果失败，请稍后重试",
			fmt.Errorf("marshal %s: %w", name, err), false)
	}
	return p.artifacts.WriteJSON(jobID, step, name, data)
}

func toolPath(configured, fallback string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	return fallback
}

func hasPairedSamples(samples model.SampleFiles) bool {
	for _, s := range samples {
		if s.Read2Path != "" {
			return true
		}
	}
	return false
}
