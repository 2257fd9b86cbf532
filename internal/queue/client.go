package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry = 5
	defaultTimeout  = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueProcessImage enqueues the job under its id, so starting a job twice
// while the first task is still pending fails with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
