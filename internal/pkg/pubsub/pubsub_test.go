package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestPublishProgress(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	pub := NewPublisher(client)

	// 先订阅，再发布
	sub := client.Subscribe(ctx, ChannelAnalysisProgress)
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	defer sub.Close()

	msg := &ProgressMessage{
		UserID:    10,
		DatasetID: 5,
		JobID:     42,
		Status:    "processing",
		Step:      2,
		StepName:  "alignment",
		Progress:  25,
	}
	err = pub.PublishProgress(ctx, msg)
	require.NoError(t, err)

	received, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got ProgressMessage
	require.NoError(t, json.Unmarshal([]byte(received.Payload), &got))

	assert.Equal(t, "job_progress", got.Type)
	assert.Equal(t, int64(42), got.JobID)
	assert.Equal(t, int64(5), got.DatasetID)
	assert.Equal(t, "alignment", got.StepName)
	assert.Equal(t, 25, got.Progress)
	// 步骤名应带出默认的用户可读消息
	assert.Equal(t, StepMessages["alignment"], got.Message)
}

func TestPublishProgress_CustomMessageKept(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	pub := NewPublisher(client)

	sub := client.Subscribe(ctx, ChannelAnalysisProgress)
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	defer sub.Close()

	msg := &ProgressMessage{
		JobID:    1,
		Status:   "failed",
		StepName: "alignment",
		Message:  "比对失败：参考基因组缺失",
		Error:    "missing reference index",
	}
	require.NoError(t, pub.PublishProgress(ctx, msg))

	received, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got ProgressMessage
	require.NoError(t, json.Unmarshal([]byte(received.Payload), &got))
	assert.Equal(t, "比对失败：参考基因组缺失", got.Message)
	assert.Equal(t, "missing reference index", got.Error)
}

func TestSubscriber(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	sub := NewSubscriber(client)
	err := sub.Subscribe(ctx, func(msg *ProgressMessage) {
		received <- msg
	})
	require.NoError(t, err)

	pub := NewPublisher(client)
	err = pub.PublishProgress(ctx, &ProgressMessage{
		JobID:    7,
		Status:   "processing",
		StepName: "quality_control",
		Progress: 10,
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, int64(7), msg.JobID)
		assert.Equal(t, "quality_control", msg.StepName)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive progress message")
	}
}

func TestStepMessages_CoverAllSteps(t *testing.T) {
	steps := []string{
		"quality_control", "trimming", "alignment", "quantification",
		"load_matrix", "pca_clustering", "differential_expression",
		"pathway_enrichment", "signature_scoring",
		"cell_filtering", "normalization",
		"hvg_selection", "pca_embedding", "graph_clustering", "marker_genes",
	}
	for _, s := range steps {
		assert.NotEmpty(t, StepMessages[s], "missing message for step %s", s)
	}
}
