package service

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/testutil"
)

const validFastq = "@read1\nACGTACGT\n+\nIIIIIIII\n@read2\nTTGGCCAA\n+\nIIIIIIII\n"

const validMatrix = "gene,ctrl_1,ctrl_2,treat_1,treat_2\n" +
	"ENSG01,10,12,55,60\n" +
	"ENSG02,100,98,97,101\n"

func setupDatasetService(t *testing.T) (*DatasetService, *UploadService, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	datasetRepo := repository.NewDatasetRepository(db)

	cfg := &config.Config{
		Upload: config.UploadConfig{
			TempDir:     t.TempDir(),
			ExpireHours: 24,
		},
		Pipeline: config.PipelineConfig{
			Organisms: map[string]config.OrganismConfig{
				"human": {
					References:       []string{"GRCh38"},
					DefaultReference: "GRCh38",
				},
			},
		},
	}

	uploadSvc := NewUploadService(cfg)
	service := NewDatasetService(datasetRepo, uploadSvc, cfg)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return service, uploadSvc, cleanup
}

// stageUpload 把文件内容写入新的上传目录，返回 upload_id
func stageUpload(t *testing.T, uploadSvc *UploadService, files map[string]string) string {
	t.Helper()

	inputs := make([]UploadInput, 0, len(files))
	for name, content := range files {
		inputs = append(inputs, UploadInput{
			Name:   name,
			Size:   int64(len(content)),
			Reader: bytes.NewReader([]byte(content)),
		})
	}

	resp, err := uploadSvc.Save(inputs)
	require.NoError(t, err)
	return resp.UploadID
}

func TestDatasetService_Create_WithFastqSamples(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"ctrl_R1.fastq":  validFastq,
		"ctrl_R2.fastq":  validFastq,
		"treat_R1.fastq": validFastq,
		"treat_R2.fastq": validFastq,
	})

	req := &dto.CreateDatasetRequest{
		Name:     "KO vs WT",
		Organism: "human",
		Kind:     "bulk",
		UploadID: uploadID,
		Samples: []dto.SampleDecl{
			{SampleID: "ctrl", Read1: "ctrl_R1.fastq", Read2: "ctrl_R2.fastq", Condition: "control"},
			{SampleID: "treat", Read1: "treat_R1.fastq", Read2: "treat_R2.fastq", Condition: "treatment"},
		},
	}

	dataset, err := service.Create(1, req)
	require.NoError(t, err)
	assert.NotZero(t, dataset.ID)
	assert.Equal(t, "human", dataset.Organism)
	assert.Len(t, dataset.Samples, 2)
	assert.Equal(t, "control", dataset.Samples[0].Condition)
	assert.NotEmpty(t, dataset.Samples[0].Read1Path)
	assert.NotEmpty(t, dataset.Samples[0].Read2Path)
}

func TestDatasetService_Create_WithMatrix(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"counts.csv": validMatrix,
	})

	req := &dto.CreateDatasetRequest{
		Name:     "Counts only",
		Kind:     "bulk",
		UploadID: uploadID,
		Matrix:   "counts.csv",
	}

	dataset, err := service.Create(1, req)
	require.NoError(t, err)
	assert.NotEmpty(t, dataset.MatrixPath)
	// 缺省物种为 human
	assert.Equal(t, "human", dataset.Organism)
}

func TestDatasetService_Create_InvalidFastqRejected(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"broken.fastq": "this is not fastq at all\n",
	})

	req := &dto.CreateDatasetRequest{
		Name:     "broken",
		Kind:     "bulk",
		UploadID: uploadID,
		Samples: []dto.SampleDecl{
			{SampleID: "s1", Read1: "broken.fastq"},
		},
	}

	_, err := service.Create(1, req)
	require.Error(t, err)

	var vErr *ValidationFailedError
	require.ErrorAs(t, err, &vErr)
	require.Len(t, vErr.Issues, 1)
	assert.Equal(t, "invalid_format", vErr.Issues[0].Reason)
	assert.Equal(t, "s1", vErr.Issues[0].SampleID)
}

func TestDatasetService_Create_MatrixMissingDeclaredSample(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"counts.csv":  validMatrix,
		"s9_R1.fastq": validFastq,
	})

	req := &dto.CreateDatasetRequest{
		Name:     "mismatch",
		Kind:     "bulk",
		UploadID: uploadID,
		Matrix:   "counts.csv",
		Samples: []dto.SampleDecl{
			// s9 不在矩阵列头中
			{SampleID: "s9", Read1: "s9_R1.fastq"},
		},
	}

	_, err := service.Create(1, req)
	require.Error(t, err)

	var vErr *ValidationFailedError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "missing_sample_files", vErr.Issues[0].Reason)
	assert.Equal(t, "s9", vErr.Issues[0].SampleID)
}

func TestDatasetService_Create_NoInput(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"counts.csv": validMatrix,
	})

	req := &dto.CreateDatasetRequest{
		Name:     "empty",
		Kind:     "bulk",
		UploadID: uploadID,
	}

	_, err := service.Create(1, req)
	assert.Equal(t, ErrDatasetNoInput, err)
}

func TestDatasetService_Create_UnknownOrganism(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"counts.csv": validMatrix,
	})

	req := &dto.CreateDatasetRequest{
		Name:     "alien",
		Organism: "martian",
		Kind:     "bulk",
		UploadID: uploadID,
		Matrix:   "counts.csv",
	}

	_, err := service.Create(1, req)
	assert.Error(t, err)
}

func TestDatasetService_Create_MissingReferencedFile(t *testing.T) {
	service, uploadSvc, cleanup := setupDatasetService(t)
	defer cleanup()

	uploadID := stageUpload(t, uploadSvc, map[string]string{
		"ctrl_R1.fastq": validFastq,
	})

	req := &dto.CreateDatasetRequest{
		Name:     "missing",
		Kind:     "bulk",
		UploadID: uploadID,
		Samples: []dto.SampleDecl{
			{SampleID: "s1", Read1: "does_not_exist.fastq"},
		},
	}

	_, err := service.Create(1, req)
	require.Error(t, err)

	var vErr *ValidationFailedError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "missing_file", vErr.Issues[0].Reason)
}

func TestDatasetService_GetByID_Permission(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	datasetRepo := repository.NewDatasetRepository(db)
	cfg := &config.Config{}
	service := NewDatasetService(datasetRepo, NewUploadService(cfg), cfg)

	owner := testutil.TestUser(t, db)
	dataset := testutil.TestDataset(t, db, owner.ID)

	_, err := service.GetByID(owner.ID+1, dataset.ID)
	assert.Equal(t, ErrDatasetPermission, err)

	found, err := service.GetByID(owner.ID, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, found.ID)
}

func TestDatasetService_Rename(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	datasetRepo := repository.NewDatasetRepository(db)
	cfg := &config.Config{}
	service := NewDatasetService(datasetRepo, NewUploadService(cfg), cfg)

	owner := testutil.TestUser(t, db)
	dataset := testutil.TestDataset(t, db, owner.ID)

	renamed, err := service.Rename(owner.ID, dataset.ID, "renamed dataset")
	require.NoError(t, err)
	assert.Equal(t, "renamed dataset", renamed.Name)
}

func TestDatasetService_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	datasetRepo := repository.NewDatasetRepository(db)
	cfg := &config.Config{}
	service := NewDatasetService(datasetRepo, NewUploadService(cfg), cfg)

	owner := testutil.TestUser(t, db)
	dataset := testutil.TestDataset(t, db, owner.ID)

	require.NoError(t, service.Delete(owner.ID, dataset.ID))

	_, err := service.GetByID(owner.ID, dataset.ID)
	assert.Equal(t, ErrDatasetNotFound, err)
}
