package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelJobProgress = "job_progress"
)

// ProgressMessage 任务进度消息，server 侧订阅后经 websocket 推给前端
type ProgressMessage struct {
	Type        string `json:"type"`
	JobPublicID string `json:"job_id"`
	ProjectID   int64  `json:"project_id"`
	Status      string `json:"status"`
	Step        string `json:"step"`
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	// 日志序号，前端用 afterSequence 续传
	LogSequence int64 `json:"log_sequence,omitempty"`
}

// 进度阶段常量
const (
	StepQueued      = "queued"
	StepLocking     = "locking"
	StepFetchDiff   = "fetch_diff"
	StepRagIndex    = "rag_index"
	StepAIAnalysis  = "ai_analysis"
	StepPersist     = "persist"
	StepReconcile   = "reconcile"
	StepQualityGate = "quality_gate"
	StepDone        = "done"
)

// 阶段对应的进度百分比
var StepProgress = map[string]int{
	StepQueued:      5,
	StepLocking:     10,
	StepFetchDiff:   25,
	StepRagIndex:    40,
	StepAIAnalysis:  60,
	StepPersist:     75,
	StepReconcile:   85,
	StepQualityGate: 95,
	StepDone:        100,
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

	// 自动填充进度
	if msg.Progress == 0 && msg.Step != "" {
		if progress, ok := StepProgress[msg.Step]; ok {
			msg.Progress = progress
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelJobProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelJobProgress)
	defer pubsub.Close()

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
