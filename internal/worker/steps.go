package worker

import "github.com/qs3c/rnaseq_go_server/internal/model"

// 流水线步骤名
const (
	StepQualityControl   = "quality_control"
	StepTrimming         = "trimming"
	StepAlignment        = "alignment"
	StepQuantification   = "quantification"
	StepLoadMatrix       = "load_matrix"
	StepPCAClustering    = "pca_clustering"
	StepDiffExpression   = "differential_expression"
	StepPathway          = "pathway_enrichment"
	StepSignatureScoring = "signature_scoring"
	StepCellFiltering    = "cell_filtering"
	StepNormalization    = "normalization"
	StepHVGSelection     = "hvg_selection"
	StepPCAEmbedding     = "pca_embedding"
	StepGraphClustering  = "graph_clustering"
	StepMarkerGenes      = "marker_genes"
)

var (
	bulkUpstreamSteps    = []string{StepQualityControl, StepTrimming, StepAlignment, StepQuantification}
	bulkDownstreamSteps  = []string{StepLoadMatrix, StepPCAClustering, StepDiffExpression, StepPathway, StepSignatureScoring}
	scrnaUpstreamSteps   = []string{StepQualityControl, StepCellFiltering, StepNormalization}
	scrnaDownstreamSteps = []string{StepHVGSelection, StepPCAEmbedding, StepGraphClustering, StepMarkerGenes}
)

// StepsForAnalysisType 返回分析类型对应的步骤名序列
func StepsForAnalysisType(analysisType string) []string {
	switch analysisType {
	case model.AnalysisBulkUpstream:
		return bulkUpstreamSteps
	case model.AnalysisBulkDownstream:
		return bulkDownstreamSteps
	case model.AnalysisBulkComprehensive:
		return append(append([]string{}, bulkUpstreamSteps...), bulkDownstreamSteps...)
	case model.AnalysisScRNAUpstream:
		return scrnaUpstreamSteps
	case model.AnalysisScRNADownstream:
		return scrnaDownstreamSteps
	case model.AnalysisScRNAComprehensive:
		return append(append([]string{}, scrnaUpstreamSteps...), scrnaDownstreamSteps...)
	default:
		return nil
	}
}
