package worker

import (
	"fmt"

	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/rnaseq"
)

// markerTopN 每簇保留的标志基因数
const markerTopN = 25

// stepSCQualityControl 统计基因×细胞矩阵的整体质量
func (p *Processor) stepSCQualityControl(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureMatrix(st); perr != nil {
		return nil, perr
	}

	m := st.matrix
	nCells := m.NSamples()
	genesPerCell := make([]int, nCells)
	countsPerCell := make([]float64, nCells)
	for _, row := range m.Values {
		for j, v := range row {
			if v > 0 {
				genesPerCell[j]++
			}
			countsPerCell[j] += v
		}
	}

	var totalGenes, totalCounts float64
	for j := 0; j < nCells; j++ {
		totalGenes += float64(genesPerCell[j])
		totalCounts += countsPerCell[j]
	}
	meanGenes, meanCounts := 0.0, 0.0
	if nCells > 0 {
		meanGenes = totalGenes / float64(nCells)
		meanCounts = totalCounts / float64(nCells)
	}

	metrics := model.JSONMap{
		"cells":                nCells,
		"genes":                m.NGenes(),
		"mean_genes_per_cell":  meanGenes,
		"mean_counts_per_cell": meanCounts,
	}
	url, perr := p.writeJSONArtifact(job.ID, StepQualityControl, "sc_qc_summary.json", metrics)
	if perr != nil {
		return nil, perr
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepCellFiltering 按基因数、总计数与线粒体比例过滤低质量细胞
func (p *Processor) stepCellFiltering(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureMatrix(st); perr != nil {
		return nil, perr
	}

	sc := p.cfg.Pipeline.SingleCell
	res := rnaseq.SCQCFilter(st.matrix, rnaseq.SCQCOptions{
		MinGenesPerCell:  sc.MinGenesPerCell,
		MinCountsPerCell: sc.MinCountsPerCell,
		MaxMitoPercent:   sc.MaxMitoPercent,
	})

	if res.Filtered.NSamples() == 0 {
		return nil, newPipelineError("全部细胞被质控过滤，请检查输入数据或放宽阈值",
			fmt.Errorf("all %d cells filtered out", res.CellsBefore), false)
	}
	st.matrix = res.Filtered

	metrics := model.JSONMap{
		"cells_before": res.CellsBefore,
		"cells_after":  res.CellsAfter,
	}
	return &stepOutcome{metrics: metrics}, nil
}

// stepNormalization 按细胞总计数归一化后 log1p 变换
func (p *Processor) stepNormalization(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureMatrix(st); perr != nil {
		return nil, perr
	}

	st.matrix = rnaseq.SCNormalize(st.matrix)
	st.scFiltered = st.matrix

	metrics := model.JSONMap{
		"cells": st.matrix.NSamples(),
		"genes": st.matrix.NGenes(),
	}
	return &stepOutcome{metrics: metrics}, nil
}

// stepHVGSelection 按离散度选高变基因
func (p *Processor) stepHVGSelection(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if perr := p.ensureSCNormalized(st); perr != nil {
		return nil, perr
	}

	st.hvg = rnaseq.SelectHVGs(st.scFiltered, p.cfg.Pipeline.SingleCell.TopHVGs)
	if st.hvg.NGenes() == 0 {
		return nil, newPipelineError("未能选出高变基因，请检查输入数据",
			fmt.Errorf("no HVGs from %d genes", st.scFiltered.NGenes()), false)
	}

	metrics := model.JSONMap{
		"hvgs_selected": st.hvg.NGenes(),
		"genes_total":   st.scFiltered.NGenes(),
	}
	return &stepOutcome{metrics: metrics}, nil
}

// stepPCAEmbedding 高变基因矩阵的主成分降维、近邻图与二维嵌入
func (p *Processor) stepPCAEmbedding(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if st.hvg == nil {
		return nil, newPipelineError("高变基因结果缺失，无法降维",
			fmt.Errorf("no HVG matrix in memory for job %d", job.ID), false)
	}

	pca, err := rnaseq.PCA(st.hvg, 10)
	if err != nil {
		return nil, newPipelineError("降维失败，请检查输入数据",
			fmt.Errorf("sc pca: %w", err), false)
	}
	st.scScores = pca.Scores
	st.knn = rnaseq.KNNGraph(pca.Scores, p.cfg.Pipeline.SingleCell.Neighbors)
	st.embedding = rnaseq.Embed2D(pca.Scores, st.knn)

	url, perr := p.writeJSONArtifact(job.ID, StepPCAEmbedding, "embedding.json", map[string]interface{}{
		"cells":              st.hvg.Samples,
		"embedding":          st.embedding,
		"variance_explained": pca.VarianceExplained,
	})
	if perr != nil {
		return nil, perr
	}

	metrics := model.JSONMap{
		"n_components":       pca.NComponents,
		"cumulative_var_pc5": pca.CumulativeVarPC5,
		"neighbors":          p.cfg.Pipeline.SingleCell.Neighbors,
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// stepGraphClustering 近邻图上的社区发现聚类
func (p *Processor) stepGraphClustering(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if st.knn == nil {
		return nil, newPipelineError("近邻图缺失，无法聚类",
			fmt.Errorf("no kNN graph in memory for job %d", job.ID), false)
	}

	st.scLabels = rnaseq.GraphCluster(st.knn, p.cfg.Pipeline.SingleCell.Resolution, p.cfg.Pipeline.Stats.RandomSeed)

	nClusters := 0
	for _, l := range st.scLabels {
		if l+1 > nClusters {
			nClusters = l + 1
		}
	}

	metrics := model.JSONMap{
		"n_clusters": nClusters,
		"resolution": p.cfg.Pipeline.SingleCell.Resolution,
	}
	return &stepOutcome{metrics: metrics}, nil
}

// stepMarkerGenes 每簇对其余细胞做秩和检验找标志基因，并写入簇结果
func (p *Processor) stepMarkerGenes(job *model.AnalysisJob, st *pipelineState) (*stepOutcome, *PipelineError) {
	if st.hvg == nil || st.scLabels == nil {
		return nil, newPipelineError("聚类结果缺失，无法识别标志基因",
			fmt.Errorf("no clustering in memory for job %d", job.ID), false)
	}

	markers := rnaseq.RankMarkerGenes(st.hvg, st.scLabels, markerTopN)

	var geneRows []*model.AnalysisResult
	totalMarkers := 0
	for clusterID := 0; ; clusterID++ {
		ms, ok := markers[clusterID]
		if !ok {
			break
		}
		totalMarkers += len(ms)
		for _, mg := range ms {
			geneRows = append(geneRows, &model.AnalysisResult{
				JobID:           job.ID,
				GeneID:          mg.Gene,
				ClusterID:       mg.ClusterID,
				Log2FoldChange:  mg.AvgLog2FC,
				AvgFoldChange:   mg.AvgLog2FC,
				PValue:          mg.PValue,
				AdjustedPValue:  mg.AdjustedPValue,
				PctExpressedIn1: mg.PctIn,
				PctExpressedIn2: mg.PctOut,
			})
		}
	}
	if err := p.resultRepo.SaveGeneResults(geneRows); err != nil {
		return nil, newPipelineError("保存标志基因失败，请稍后重试",
			fmt.Errorf("save marker genes: %w", err), true)
	}

	clusterRows := p.buildClusterRows(job.ID, st, markers)
	if err := p.resultRepo.SaveClusters(clusterRows); err != nil {
		return nil, newPipelineError("保存聚类结果失败，请稍后重试",
			fmt.Errorf("save clusters: %w", err), true)
	}

	url, perr := p.writeJSONArtifact(job.ID, StepMarkerGenes, "markers.json", markers)
	if perr != nil {
		return nil, perr
	}

	metrics := model.JSONMap{
		"clusters": len(clusterRows),
		"markers":  totalMarkers,
	}
	return &stepOutcome{metrics: metrics, outputs: []string{url}}, nil
}

// buildClusterRows 汇总每簇的细胞数、嵌入坐标与标志基因名
func (p *Processor) buildClusterRows(jobID int64, st *pipelineState, markers map[int][]rnaseq.MarkerGene) []*model.Cluster {
	nClusters := 0
	for _, l := range st.scLabels {
		if l+1 > nClusters {
			nClusters = l + 1
		}
	}

	rows := make([]*model.Cluster, nClusters)
	for c := 0; c < nClusters; c++ {
		rows[c] = &model.Cluster{JobID: jobID, ClusterID: c}
		for _, mg := range markers[c] {
			rows[c].MarkerGenes = append(rows[c].MarkerGenes, mg.Gene)
		}
	}

	for i, l := range st.scLabels {
		rows[l].CellCount++
		if st.embedding != nil && i < len(st.embedding) {
			rows[l].EmbeddingX = append(rows[l].EmbeddingX, st.embedding[i][0])
			rows[l].EmbeddingY = append(rows[l].EmbeddingY, st.embedding[i][1])
		}
	}
	return rows
}

// ensureSCNormalized 保证单细胞归一化矩阵可用
func (p *Processor) ensureSCNormalized(st *pipelineState) *PipelineError {
	if st.scFiltered != nil {
		return nil
	}
	if perr := p.ensureMatrix(st); perr != nil {
		return perr
	}
	st.scFiltered = rnaseq.SCNormalize(st.matrix)
	return nil
}
