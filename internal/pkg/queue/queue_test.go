package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T, name string) (*Queue, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return NewQueue(client, name), client
}

func job(id int64) *JobMessage {
	return &JobMessage{
		JobID:         id,
		RepositoryID:  10,
		RepositoryURL: "https://github.com/example/widgets",
		Branch:        "main",
	}
}

func TestQueue_DispatchAndPopFIFO(t *testing.T) {
	q, _ := setupTestQueue(t, "analysis_jobs")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Dispatch(ctx, job(i)))
	}
	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for i := int64(1); i <= 3; i++ {
		msg, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, *job(i), *msg)
	}

	n, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_DispatchRejectsIncompleteMessage(t *testing.T) {
	q, _ := setupTestQueue(t, "analysis_jobs")
	ctx := context.Background()

	assert.ErrorIs(t, q.Dispatch(ctx, nil), ErrInvalidMessage)
	assert.ErrorIs(t, q.Dispatch(ctx, &JobMessage{RepositoryURL: "https://github.com/a/b"}), ErrInvalidMessage)
	assert.ErrorIs(t, q.Dispatch(ctx, &JobMessage{JobID: 1}), ErrInvalidMessage)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_PopTimeout(t *testing.T) {
	q, _ := setupTestQueue(t, "analysis_jobs")

	start := time.Now()
	msg, err := q.Pop(context.Background(), 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueue_PopDropsMalformed(t *testing.T) {
	q, client := setupTestQueue(t, "analysis_jobs")
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, "analysis_jobs", "{not json").Err())
	require.NoError(t, client.LPush(ctx, "analysis_jobs", `{"job_id":0}`).Err())
	require.NoError(t, q.Dispatch(ctx, job(5)))

	msg, err := q.Pop(ctx, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = q.Pop(ctx, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(5), msg.JobID)
}

func TestQueue_Isolation(t *testing.T) {
	q1, client := setupTestQueue(t, "queue_a")
	q2 := NewQueue(client, "queue_b")
	ctx := context.Background()

	require.NoError(t, q1.Dispatch(ctx, job(1)))

	msg, err := q2.Pop(ctx, 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = q1.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.JobID)
}

func TestQueue_PopCancelled(t *testing.T) {
	q, _ := setupTestQueue(t, "analysis_jobs")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx, time.Second)
	assert.Error(t, err)
}
