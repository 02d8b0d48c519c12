package dto

// CreateJobRequest 创建分析任务请求
type CreateJobRequest struct {
	DatasetID    int64                  `json:"dataset_id" binding:"required"`
	AnalysisType string                 `json:"analysis_type" binding:"required,max=30"`
	Config       map[string]interface{} `json:"config,omitempty"`
	ModelName    string                 `json:"model_name,omitempty" binding:"omitempty,max=50"`
}

// CreateJobResponse 创建分析任务响应
type CreateJobResponse struct {
	JobID   int64 `json:"job_id"`
	Charged int   `json:"charged"`
	Balance int   `json:"balance"`
}

// JobStatusResponse 任务状态响应
type JobStatusResponse struct {
	ID                 int64                  `json:"id"`
	DatasetID          int64                  `json:"dataset_id"`
	AnalysisType       string                 `json:"analysis_type"`
	Status             string                 `json:"status"`
	CurrentStep        int                    `json:"current_step"`
	CurrentStepName    string                 `json:"current_step_name,omitempty"`
	ProgressPercentage int                    `json:"progress_percentage"`
	Metrics            map[string]interface{} `json:"metrics,omitempty"`
	PendingQuestion    string                 `json:"pending_question,omitempty"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	CreatedAt          string                 `json:"created_at"`
	StartedAt          string                 `json:"started_at,omitempty"`
	CompletedAt        string                 `json:"completed_at,omitempty"`
	ElapsedSeconds     int                    `json:"elapsed_seconds,omitempty"`
	Steps              []StepItem             `json:"steps,omitempty"`
}

// StepItem 步骤列表项
type StepItem struct {
	StepNumber      int                    `json:"step_number"`
	Name            string                 `json:"name"`
	Status          string                 `json:"status"`
	RetryCount      int                    `json:"retry_count"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

// ResumeJobRequest 恢复 waiting_for_input 任务的用户输入
type ResumeJobRequest struct {
	// Groups 用户确认的样本分组：sample_id -> 组名；为空表示接受系统建议的拆分
	Groups  map[string]string `json:"groups,omitempty"`
	Confirm bool              `json:"confirm"`
}

// GeneResultItem 差异表达结果项
type GeneResultItem struct {
	GeneID         string  `json:"gene_id"`
	GeneName       string  `json:"gene_name,omitempty"`
	ClusterID      int     `json:"cluster_id,omitempty"`
	Log2FoldChange float64 `json:"log2_fold_change"`
	PValue         float64 `json:"p_value"`
	AdjustedPValue float64 `json:"adjusted_p_value"`
	MeanExpression float64 `json:"mean_expression"`
}

// PathwayResultItem 通路富集结果项
type PathwayResultItem struct {
	PathwayID       string   `json:"pathway_id"`
	PathwayName     string   `json:"pathway_name"`
	Database        string   `json:"database"`
	GeneSet         string   `json:"gene_set"`
	PValue          float64  `json:"p_value"`
	AdjustedPValue  float64  `json:"adjusted_p_value"`
	OverlapCount    int      `json:"overlap_count"`
	Genes           []string `json:"genes,omitempty"`
	EnrichmentScore float64  `json:"enrichment_score"`
}

// ClusterItem 单细胞聚类结果项
type ClusterItem struct {
	ClusterID   int      `json:"cluster_id"`
	CellType    string   `json:"cell_type,omitempty"`
	CellCount   int      `json:"cell_count"`
	MarkerGenes []string `json:"marker_genes,omitempty"`
}

// CreateInterpretationRequest 创建 AI 解读请求
type CreateInterpretationRequest struct {
	AnalysisType string `json:"analysis_type" binding:"required,max=30"`
	Question     string `json:"question,omitempty" binding:"omitempty,max=2000"`
	ModelName    string `json:"model_name,omitempty" binding:"omitempty,max=50"`
}

// InterpretationItem AI 解读响应项
type InterpretationItem struct {
	ID           int64   `json:"id"`
	AnalysisType string  `json:"analysis_type"`
	Question     string  `json:"question,omitempty"`
	Response     string  `json:"response"`
	Confidence   float64 `json:"confidence"`
	ModelName    string  `json:"model_name,omitempty"`
	CreatedAt    string  `json:"created_at"`
}
