package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	sub := NewSubscriber(client)
	go sub.Subscribe(ctx, func(msg *ProgressMessage) {
		received <- msg
	})

	// 等订阅建立
	time.Sleep(50 * time.Millisecond)

	pub := NewPublisher(client)
	require.NoError(t, pub.PublishProgress(ctx, &ProgressMessage{
		JobPublicID: "job-abc",
		ProjectID:   7,
		Status:      "RUNNING",
		Step:        StepAIAnalysis,
	}))

	select {
	case msg := <-received:
		assert.Equal(t, "job-abc", msg.JobPublicID)
		assert.Equal(t, StepAIAnalysis, msg.Step)
		// 进度按步骤自动填充
		assert.Equal(t, StepProgress[StepAIAnalysis], msg.Progress)
		assert.Equal(t, "job_progress", msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive progress message")
	}
}

func TestPublishProgress_ExplicitProgressKept(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	msg := &ProgressMessage{Step: StepLocking, Progress: 33}
	require.NoError(t, NewPublisher(client).PublishProgress(context.Background(), msg))
	assert.Equal(t, 33, msg.Progress)
}
