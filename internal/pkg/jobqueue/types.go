package jobqueue

import (
	"context"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypePayPalWebhook JobType = "paypal_webhook"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDead       JobStatus = "dead"
)

// Job represents a queued unit of work. Payload is stored as received.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Payload     string     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ErrorMsg    string     `json:"error_msg,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Processor handles one job. A returned error releases the job for retry.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// IsRetryable checks if the job has attempts left
func (j *Job) IsRetryable() bool {
	return j.RetryCount <= j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsFailed records a failed attempt
func (j *Job) MarkAsFailed(errorMsg string, now time.Time) {
	j.UpdatedAt = now
	j.ErrorMsg = errorMsg
	j.RetryCount++
	if j.IsRetryable() {
		j.Status = JobStatusRetrying
	} else {
		j.Status = JobStatusDead
	}
}

// Stats is a snapshot of the queue sizes.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}
