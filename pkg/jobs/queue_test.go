package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emailPayload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func TestQueueProcessesJob(t *testing.T) {
	done := make(chan Job, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		done <- job
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "notification.email", Payload: emailPayload{UserID: "u1"}}))

	select {
	case job := <-done:
		assert.Equal(t, "1", job.ID)
		assert.False(t, job.Enqueued.IsZero())
	case <-time.After(time.Second):
		t.Fatal("job not processed")
	}
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan int, 1)
	q := NewQueue("retry", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("smtp down")
		}
		done <- job.Attempt
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "r", Type: "notification.email"}))

	select {
	case attempt := <-done:
		assert.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "x"})
	require.Error(t, err)
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, RetryDelay(base, 1))
	assert.Equal(t, 200*time.Millisecond, RetryDelay(base, 2))
	assert.Equal(t, 400*time.Millisecond, RetryDelay(base, 3))
}

func TestJobDecodeFromStructAndRaw(t *testing.T) {
	var fromStruct emailPayload
	require.NoError(t, Job{ID: "a", Payload: emailPayload{UserID: "u1", Title: "hi"}}.Decode(&fromStruct))
	assert.Equal(t, "u1", fromStruct.UserID)

	var fromRaw emailPayload
	raw := json.RawMessage(`{"user_id":"u2","title":"there"}`)
	require.NoError(t, Job{ID: "b", Payload: raw}.Decode(&fromRaw))
	assert.Equal(t, "there", fromRaw.Title)
}

func TestEnvelopeKeepsAttemptAndPayload(t *testing.T) {
	body, err := encodeJob(Job{ID: "j1", Type: "notification.chat", Payload: emailPayload{UserID: "u3"}, Attempt: 2})
	require.NoError(t, err)

	job, err := decodeJob(body)
	require.NoError(t, err)
	assert.Equal(t, "notification.chat", job.Type)
	assert.Equal(t, 2, job.Attempt)
	assert.False(t, job.Enqueued.IsZero())

	var payload emailPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "u3", payload.UserID)
}

func TestRetryQueueDeadLettersIntoMainBinding(t *testing.T) {
	cfg := AMQPConfig{Exchange: "portal", Queue: "notifications"}
	args := retryQueueArgs(cfg)

	assert.Equal(t, "portal", args["x-dead-letter-exchange"])
	key, ok := args["x-dead-letter-routing-key"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, cfg.Queue+"."))
	assert.NotEqual(t, cfg.Queue, retryQueueName(cfg.Queue))
}

func TestRetryPublishingExpiresAfterBackoff(t *testing.T) {
	job := Job{ID: "j1", Type: "notification.email", Attempt: 2}

	msg := retryPublishing(job, []byte(`{}`), 4*time.Second)
	assert.Equal(t, "4000", msg.Expiration)
	assert.Equal(t, "j1", msg.MessageId)

	assert.Equal(t, "1", retryPublishing(job, nil, 0).Expiration)
}
