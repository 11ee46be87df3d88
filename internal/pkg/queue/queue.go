package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrInvalidMessage 消息缺少任务或仓库信息
var ErrInvalidMessage = errors.New("queue: job message requires job id and repository url")

// Queue 基于 Redis list 的分析任务队列，LPUSH 入队，BRPOP 出队
type Queue struct {
	client    *redis.Client
	queueName string
}

// JobMessage 分析任务消息
type JobMessage struct {
	JobID         int64  `json:"job_id"`
	RepositoryID  int64  `json:"repository_id"`
	RepositoryURL string `json:"repository_url"`
	Branch        string `json:"branch,omitempty"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Dispatch 交给独立的 worker 进程执行
func (q *Queue) Dispatch(ctx context.Context, msg *JobMessage) error {
	if msg == nil || msg.JobID <= 0 || msg.RepositoryURL == "" {
		return ErrInvalidMessage
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 阻塞等待任务，超时返回 (nil, nil)。无法解析的消息直接丢弃，避免 worker 反复取到同一条
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil || msg.JobID <= 0 {
		log.Printf("Queue: dropping malformed message from %s: %q", q.queueName, result[1])
		return nil, nil
	}
	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
