package model

import (
	"time"
)

// AnalysisResult 基因级差异表达结果，每任务每基因（单细胞下可按簇）一行
type AnalysisResult struct {
	ID              int64   `gorm:"primaryKey" json:"id"`
	JobID           int64   `gorm:"not null;index:idx_job_gene_cluster,unique" json:"job_id"`
	GeneID          string  `gorm:"size:100;not null;index:idx_job_gene_cluster,unique" json:"gene_id"`
	ClusterID       int     `gorm:"default:-1;index:idx_job_gene_cluster,unique" json:"cluster_id"` // -1 表示 bulk（无簇）
	GeneName        string  `gorm:"size:100" json:"gene_name,omitempty"`
	Log2FoldChange  float64 `json:"log2_fold_change"`
	PValue          float64 `json:"p_value"`
	AdjustedPValue  float64 `json:"adjusted_p_value"`
	MeanExpression  float64 `json:"mean_expression"`
	Chromosome      string  `gorm:"size:20" json:"chromosome,omitempty"`
	GeneType        string  `gorm:"size:50" json:"gene_type,omitempty"`
	Description     string  `gorm:"size:500" json:"description,omitempty"`
	CellType        string  `gorm:"size:100" json:"cell_type,omitempty"`
	AvgFoldChange   float64 `json:"avg_fold_change,omitempty"`
	PctExpressedIn1 float64 `json:"pct_expressed_in_1,omitempty"`
	PctExpressedIn2 float64 `json:"pct_expressed_in_2,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (AnalysisResult) TableName() string {
	return "analysis_results"
}

// PathwayResult 通路富集结果，每任务每通路每数据库一行
type PathwayResult struct {
	ID              int64       `gorm:"primaryKey" json:"id"`
	JobID           int64       `gorm:"not null;index:idx_job_pathway_db,unique" json:"job_id"`
	PathwayID       string      `gorm:"size:100;not null;index:idx_job_pathway_db,unique" json:"pathway_id"`
	Database        string      `gorm:"size:50;not null;index:idx_job_pathway_db,unique" json:"database"`
	PathwayName     string      `gorm:"size:300" json:"pathway_name"`
	GeneSet         string      `gorm:"size:20;default:all" json:"gene_set"` // all, up, down
	PValue          float64     `json:"p_value"`
	AdjustedPValue  float64     `json:"adjusted_p_value"`
	OverlapCount    int         `json:"overlap_count"`
	Genes           StringArray `gorm:"type:json" json:"genes,omitempty"`
	EnrichmentScore float64     `json:"enrichment_score"`
	CreatedAt       time.Time   `json:"created_at"`
}

func (PathwayResult) TableName() string {
	return "pathway_results"
}

// Cluster 单细胞聚类结果，每任务每簇一行
type Cluster struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	JobID       int64       `gorm:"not null;index:idx_job_cluster,unique" json:"job_id"`
	ClusterID   int         `gorm:"not null;index:idx_job_cluster,unique" json:"cluster_id"`
	CellType    string      `gorm:"size:100" json:"cell_type,omitempty"`
	CellCount   int         `json:"cell_count"`
	MarkerGenes StringArray `gorm:"type:json" json:"marker_genes,omitempty"`
	EmbeddingX  FloatArray  `gorm:"type:json" json:"embedding_x,omitempty"`
	EmbeddingY  FloatArray  `gorm:"type:json" json:"embedding_y,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (Cluster) TableName() string {
	return "clusters"
}

// AIInterpretation 结果解读记录，只追加不修改
type AIInterpretation struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	JobID        int64     `gorm:"not null;index" json:"job_id"`
	AnalysisType string    `gorm:"size:30;not null" json:"analysis_type"`
	Question     string    `gorm:"type:text" json:"question,omitempty"` // 用户提出的问题或假设
	Response     string    `gorm:"type:text" json:"response"`
	ContextData  JSONMap   `gorm:"type:json" json:"context_data,omitempty"` // 构建 prompt 所用的摘要数据
	Confidence   float64   `json:"confidence"`
	ModelName    string    `gorm:"size:50" json:"model_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (AIInterpretation) TableName() string {
	return "ai_interpretations"
}
