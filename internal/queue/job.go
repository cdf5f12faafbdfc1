// Package queue carries analysis jobs between the scheduler and the workers
// over Kafka. Delivery is at-least-once; consumers rely on the record store's
// atomic claim to make duplicates harmless.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// JobName identifies the only job kind this engine enqueues.
const JobName = "run_analysis"

// Job is one unit of analysis work: run analysisType against the entity.
// The scheduler creates the pending record before enqueueing, so RecordID
// always refers to an existing row.
type Job struct {
	Name         string    `json:"name"`
	RecordID     string    `json:"record_id"`
	EntityID     string    `json:"entity_id"`
	EntityKind   string    `json:"entity_kind"`
	TenantID     string    `json:"tenant_id"`
	AnalysisType string    `json:"analysis_type"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Validate checks the job is complete enough to execute.
func (j *Job) Validate() error {
	if j.Name != JobName {
		return errors.New("unknown job name")
	}
	if j.RecordID == "" || j.EntityID == "" || j.TenantID == "" || j.AnalysisType == "" {
		return errors.New("job is missing required fields")
	}
	return nil
}

// Marshal serializes the job for the wire.
func (j *Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob parses a job payload and validates it.
func UnmarshalJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}
