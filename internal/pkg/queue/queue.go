package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// JobMessage 投递给 worker 的任务消息
type JobMessage struct {
	JobID        int64  `json:"job_id"`
	DatasetID    int64  `json:"dataset_id"`
	UserID       int64  `json:"user_id"`
	AnalysisType string `json:"analysis_type"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

// 停止标记的有效期，防止取消后标记残留
const stopFlagTTL = 24 * time.Hour

func stopKey(jobID int64) string {
	return fmt.Sprintf("analysis:stop:%d", jobID)
}

// RequestStop 标记任务取消；worker 在步骤间检查该标记
func (q *Queue) RequestStop(ctx context.Context, jobID int64) error {
	return q.client.Set(ctx, stopKey(jobID), "1", stopFlagTTL).Err()
}

// StopRequested 检查任务是否被请求取消
func (q *Queue) StopRequested(ctx context.Context, jobID int64) bool {
	v, err := q.client.Get(ctx, stopKey(jobID)).Result()
	return err == nil && v == "1"
}

// ClearStop 清除取消标记
func (q *Queue) ClearStop(ctx context.Context, jobID int64) error {
	return q.client.Del(ctx, stopKey(jobID)).Err()
}

// 执行租约的有效期，worker 崩溃后租约自动过期，任务可被重新处理
const jobLeaseTTL = 2 * time.Hour

func leaseKey(jobID int64) string {
	return fmt.Sprintf("analysis:lease:%d", jobID)
}

// AcquireLease 抢占任务执行租约；同一任务的重复消息只有一个 worker 能拿到
func (q *Queue) AcquireLease(ctx context.Context, jobID int64) (bool, error) {
	return q.client.SetNX(ctx, leaseKey(jobID), "1", jobLeaseTTL).Result()
}

// ReleaseLease 释放执行租约
func (q *Queue) ReleaseLease(ctx context.Context, jobID int64) error {
	return q.client.Del(ctx, leaseKey(jobID)).Err()
}
