package queue

import (
	"fmt"
	"time"

	"github.com/dunamismax/rasterflow/internal/domain"
	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const TypeProcessImage = "image:process"

type ProcessImagePayload struct {
	JobID       string                `json:"job_id"`
	UserID      string                `json:"user_id,omitempty"`
	SourceType  string                `json:"source_type"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	ObjectKey   string                `json:"object_key"`
	Pipeline    []domain.PipelineStep `json:"pipeline"`
	RequestedAt time.Time             `json:"requested_at"`
}

// PayloadFromJob builds the task payload for a stored job.
func PayloadFromJob(job domain.Job, requestedAt time.Time) ProcessImagePayload {
	return ProcessImagePayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Pipeline:    job.Pipeline,
		RequestedAt: requestedAt,
	}
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
