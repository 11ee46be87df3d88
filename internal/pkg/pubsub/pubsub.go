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
	Type          string `json:"type"`
	RepositoryID  int64  `json:"repository_id"`
	JobID         int64  `json:"job_id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	FilesAnalysed int    `json:"files_analysed"`
	TotalFiles    *int   `json:"total_files,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// 状态对应的消息
var StatusMessages = map[string]string{
	"PENDING":   "等待分析",
	"CLONING":   "正在获取仓库",
	"ANALYSING": "正在分析文件",
	"COMPLETED": "分析完成",
	"FAILED":    "分析失败",
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

	// 自动填充消息
	if msg.Message == "" && msg.Status != "" {
		if message, ok := StatusMessages[msg.Status]; ok {
			msg.Message = message
		}
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

// Subscribe 订阅进度消息
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer pubsub.Close()

	// 等待订阅确认，避免订阅前发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
