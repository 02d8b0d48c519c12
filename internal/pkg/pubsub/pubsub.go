package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelAnalysisProgress = "analysis_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	DatasetID  int64  `json:"dataset_id"`
	JobID      int64  `json:"job_id"`
	Status     string `json:"status"`
	Step       int    `json:"step"`
	StepName   string `json:"step_name"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// 步骤名对应的用户可读消息
var StepMessages = map[string]string{
	"quality_control":         "正在进行质量控制",
	"trimming":                "正在修剪测序读段",
	"alignment":               "正在比对参考基因组",
	"quantification":          "正在定量基因表达",
	"load_matrix":             "正在加载表达矩阵",
	"pca_clustering":          "正在进行主成分分析与聚类",
	"differential_expression": "正在进行差异表达分析",
	"pathway_enrichment":      "正在进行通路富集分析",
	"signature_scoring":       "正在计算基因签名得分",
	"cell_filtering":          "正在过滤低质量细胞",
	"normalization":           "正在归一化表达数据",
	"hvg_selection":           "正在选择高变基因",
	"pca_embedding":           "正在计算降维嵌入",
	"graph_clustering":        "正在进行图聚类",
	"marker_genes":            "正在识别簇标志基因",
	"done":                    "分析完成",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "job_progress"

	// 自动填充用户可读消息
	if msg.Message == "" && msg.StepName != "" {
		msg.Message = StepMessages[msg.StepName]
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelAnalysisProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度频道，返回消息通道；context 取消后自动退出
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	sub := s.client.Subscribe(ctx, ChannelAnalysisProgress)

	// 确认订阅成功
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg ProgressMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				handler(&msg)
			}
		}
	}()
	return nil
}
