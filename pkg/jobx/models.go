package jobx

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// Job is a unit of work to be enqueued.
type Job struct {
	Type    string          `json:"type"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`

	// MaxRetries defaults to 3.
	MaxRetries int `json:"max_retries"`
}

// NewJob encodes payload as JSON.
func NewJob(jobType string, payload interface{}) (Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, jobxErrors.NewWithCause(ErrInvalidJob, err).WithDetail("type", jobType)
	}
	return Job{Type: jobType, Payload: data}, nil
}

// JobInfo is a job as stored by the backend.
type JobInfo struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	MaxRetries int             `json:"max_retries"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (j *JobInfo) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return jobxErrors.NewWithCause(ErrInvalidJob, err).WithDetail("job_id", j.ID)
	}
	return nil
}
