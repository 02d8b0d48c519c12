package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/api/middleware"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/queue"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/response"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/service"
	"github.com/qs3c/rnaseq_go_server/internal/testutil"
)

type testContext struct {
	DB *gorm.DB
}

// mockAuth 模拟登录态，直接注入用户ID
func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func setupAnalysisHandler(t *testing.T) (*AnalysisHandler, *testContext, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	jobQueue := queue.NewQueue(rdb, "test_analysis_queue")

	cfg := &config.Config{
		Credits: config.CreditsConfig{
			DailyGrant: 50,
			Costs: map[string]int{
				model.AnalysisBulkUpstream:      20,
				model.AnalysisBulkDownstream:    10,
				model.AnalysisBulkComprehensive: 25,
				model.AnalysisScRNADownstream:   15,
			},
		},
		Pipeline: config.PipelineConfig{
			Stats: config.StatsConfig{
				FDRThreshold:    0.05,
				Log2FCThreshold: 1.0,
			},
		},
	}

	jobRepo := repository.NewJobRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	resultRepo := repository.NewResultRepository(db)
	userRepo := repository.NewUserRepository(db)

	analysisService := service.NewAnalysisService(jobRepo, datasetRepo, resultRepo, userRepo, jobQueue, cfg)
	handler := NewAnalysisHandler(analysisService)

	ctx := &testContext{DB: db}

	cleanup := func() {
		rdb.Close()
		mr.Close()
		testutil.CleanupTestDB(t, db)
	}

	return handler, ctx, cleanup
}

func newJobsRouter(handler *AnalysisHandler, userID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mockAuth(userID))
	router.POST("/jobs", handler.Create)
	router.GET("/jobs", handler.List)
	router.GET("/jobs/:id", handler.Get)
	router.POST("/jobs/:id/resume", handler.Resume)
	router.POST("/jobs/:id/cancel", handler.Cancel)
	router.GET("/jobs/:id/genes", handler.ListGenes)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAnalysisHandler_Create_Success(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(100))
	dataset := testutil.TestDataset(t, ctx.DB, user.ID,
		testutil.WithMatrixPath("/data/matrix.csv"),
	)

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, "/jobs", gin.H{
		"dataset_id":    dataset.ID,
		"analysis_type": model.AnalysisBulkDownstream,
	})

	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotZero(t, data["job_id"])
	assert.Equal(t, float64(10), data["charged"])
	assert.Equal(t, float64(90), data["balance"])

	// 任务与步骤已落库
	var job model.AnalysisJob
	require.NoError(t, ctx.DB.First(&job, int64(data["job_id"].(float64))).Error)
	assert.Equal(t, model.JobStatusPending, job.Status)

	var stepCount int64
	ctx.DB.Model(&model.PipelineStep{}).Where("job_id = ?", job.ID).Count(&stepCount)
	assert.NotZero(t, stepCount)
}

func TestAnalysisHandler_Create_InsufficientCredits(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(5))
	dataset := testutil.TestDataset(t, ctx.DB, user.ID,
		testutil.WithMatrixPath("/data/matrix.csv"),
	)

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, "/jobs", gin.H{
		"dataset_id":    dataset.ID,
		"analysis_type": model.AnalysisBulkDownstream,
	})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeInsufficientCredits, resp.Code)

	// 未扣费
	var fresh model.User
	require.NoError(t, ctx.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, 5, fresh.CreditBalance)
}

func TestAnalysisHandler_Create_DatasetConflict(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(100))
	dataset := testutil.TestDataset(t, ctx.DB, user.ID,
		testutil.WithMatrixPath("/data/matrix.csv"),
	)
	testutil.TestJob(t, ctx.DB, user.ID, dataset.ID,
		testutil.WithStatus(model.JobStatusProcessing),
	)

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, "/jobs", gin.H{
		"dataset_id":    dataset.ID,
		"analysis_type": model.AnalysisBulkDownstream,
	})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeJobConflict, resp.Code)
}

func TestAnalysisHandler_Create_KindMismatch(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(100))
	// bulk 数据集上请求单细胞分析
	dataset := testutil.TestDataset(t, ctx.DB, user.ID,
		testutil.WithMatrixPath("/data/matrix.csv"),
	)

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, "/jobs", gin.H{
		"dataset_id":    dataset.ID,
		"analysis_type": model.AnalysisScRNADownstream,
	})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_Create_DatasetNotFound(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(100))

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, "/jobs", gin.H{
		"dataset_id":    int64(99999),
		"analysis_type": model.AnalysisBulkDownstream,
	})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestAnalysisHandler_Get_WithSteps(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB)
	dataset := testutil.TestDataset(t, ctx.DB, user.ID)
	job := testutil.TestJob(t, ctx.DB, user.ID, dataset.ID,
		testutil.WithStatus(model.JobStatusProcessing),
	)
	testutil.TestSteps(t, ctx.DB, job.ID, []string{"normalization", "differential_expression", "enrichment"})

	router := newJobsRouter(handler, user.ID)
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%d", job.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, model.JobStatusProcessing, data["status"])

	steps, ok := data["steps"].([]interface{})
	require.True(t, ok)
	assert.Len(t, steps, 3)
}

func TestAnalysisHandler_Get_OtherUsersJob(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	owner := testutil.TestUser(t, ctx.DB)
	dataset := testutil.TestDataset(t, ctx.DB, owner.ID)
	job := testutil.TestJob(t, ctx.DB, owner.ID, dataset.ID)

	intruder := testutil.TestUser(t, ctx.DB)

	router := newJobsRouter(handler, intruder.ID)
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%d", job.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodePermissionDenied, resp.Code)
}

func TestAnalysisHandler_Cancel_PendingRefunds(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(100))
	dataset := testutil.TestDataset(t, ctx.DB, user.ID,
		testutil.WithMatrixPath("/data/matrix.csv"),
	)

	router := newJobsRouter(handler, user.ID)

	// 先走正常创建流程扣掉 10 积分
	w := postJSON(t, router, "/jobs", gin.H{
		"dataset_id":    dataset.ID,
		"analysis_type": model.AnalysisBulkDownstream,
	})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	jobID := int64(resp.Data.(map[string]interface{})["job_id"].(float64))

	w = postJSON(t, router, fmt.Sprintf("/jobs/%d/cancel", jobID), gin.H{})
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var job model.AnalysisJob
	require.NoError(t, ctx.DB.First(&job, jobID).Error)
	assert.Equal(t, model.JobStatusCancelled, job.Status)

	// 取消 pending 任务全额退款
	var fresh model.User
	require.NoError(t, ctx.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, 100, fresh.CreditBalance)
}

func TestAnalysisHandler_Cancel_CompletedJob(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB)
	dataset := testutil.TestDataset(t, ctx.DB, user.ID)
	job := testutil.TestJob(t, ctx.DB, user.ID, dataset.ID,
		testutil.WithStatus(model.JobStatusCompleted),
	)

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, fmt.Sprintf("/jobs/%d/cancel", job.ID), gin.H{})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_Resume_NotWaiting(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB)
	dataset := testutil.TestDataset(t, ctx.DB, user.ID)
	job := testutil.TestJob(t, ctx.DB, user.ID, dataset.ID,
		testutil.WithStatus(model.JobStatusProcessing),
	)

	router := newJobsRouter(handler, user.ID)
	w := postJSON(t, router, fmt.Sprintf("/jobs/%d/resume", job.ID), gin.H{
		"confirm": true,
	})

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_List_FilterByStatus(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB)
	dataset := testutil.TestDataset(t, ctx.DB, user.ID)
	testutil.TestJob(t, ctx.DB, user.ID, dataset.ID, testutil.WithStatus(model.JobStatusCompleted))
	testutil.TestJob(t, ctx.DB, user.ID, dataset.ID, testutil.WithStatus(model.JobStatusFailed))
	testutil.TestJob(t, ctx.DB, user.ID, dataset.ID, testutil.WithStatus(model.JobStatusCompleted))

	router := newJobsRouter(handler, user.ID)
	req := httptest.NewRequest(http.MethodGet, "/jobs?status=completed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), data["total"])
}

func TestAnalysisHandler_ListGenes_SignificantOnly(t *testing.T) {
	handler, ctx, cleanup := setupAnalysisHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB)
	dataset := testutil.TestDataset(t, ctx.DB, user.ID)
	job := testutil.TestJob(t, ctx.DB, user.ID, dataset.ID,
		testutil.WithStatus(model.JobStatusCompleted),
	)

	results := []*model.AnalysisResult{
		{JobID: job.ID, GeneID: "ENSG01", GeneName: "TP53", Log2FoldChange: 2.4, PValue: 0.0001, AdjustedPValue: 0.001},
		{JobID: job.ID, GeneID: "ENSG02", GeneName: "GAPDH", Log2FoldChange: 0.1, PValue: 0.8, AdjustedPValue: 0.9},
	}
	require.NoError(t, ctx.DB.Create(&results).Error)

	router := newJobsRouter(handler, user.ID)
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%d/genes?significant=true", job.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["total"])
}
