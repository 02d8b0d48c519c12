package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/response"
	"github.com/qs3c/rnaseq_go_server/internal/service"
)

func newUploadHandler(t *testing.T) *UploadHandler {
	t.Helper()

	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxSize:           104857600,
			TempDir:           t.TempDir(),
			ExpireHours:       24,
			AllowedExtensions: []string{".fastq", ".fastq.gz", ".fq.gz", ".csv", ".tsv"},
		},
	}
	uploadService := service.NewUploadService(cfg)
	return NewUploadHandler(uploadService, cfg)
}

func multipartFiles(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadHandler_Upload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newUploadHandler(t)

	fastq := []byte("@read1\nACGT\n+\nIIII\n")
	body, contentType := multipartFiles(t, map[string][]byte{
		"sample1_R1.fastq": fastq,
		"sample1_R2.fastq": fastq,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/v1/uploads", handler.Upload)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["upload_id"])
	assert.Len(t, data["files"], 2)
}

func TestUploadHandler_Upload_NoFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newUploadHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)

	w := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/v1/uploads", handler.Upload)
	router.ServeHTTP(w, req)

	resp := parseResponse(t, w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestUploadHandler_Upload_InvalidExtension(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newUploadHandler(t)

	body, contentType := multipartFiles(t, map[string][]byte{
		"notes.exe": []byte("not sequencing data"),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/v1/uploads", handler.Upload)
	router.ServeHTTP(w, req)

	resp := parseResponse(t, w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeParamError, resp.Code)
}
