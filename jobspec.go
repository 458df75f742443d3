package queuectl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobSpec is a validated request to enqueue a job. Command is mandatory;
// all other fields are optional and take their defaults from the
// configuration at enqueue time.
type JobSpec struct {
	ID         string     `json:"id,omitempty"`
	Command    string     `json:"command"`
	MaxRetries *int       `json:"max_retries,omitempty"`
	Priority   *int       `json:"priority,omitempty"`
	RunAt      *time.Time `json:"run_at,omitempty"`
}

// ParseJobSpec decodes a JSON job specification. Unknown keys are
// rejected with ErrInvalidInput, as are specs without a command.
func ParseJobSpec(data []byte) (*JobSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var spec JobSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec for mandatory fields and value ranges.
func (s *JobSpec) Validate() error {
	if s.Command == "" {
		return fmt.Errorf("%w: no command specified", ErrInvalidInput)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 1 {
		return fmt.Errorf("%w: max_retries must be at least 1", ErrInvalidInput)
	}
	return nil
}

// NewJob builds a Job from the spec. Missing fields are filled in:
// the identifier with a generated UUID, MaxRetries with defaultMaxRetries,
// RunAt with now.
func (s *JobSpec) NewJob(defaultMaxRetries int, now time.Time) *Job {
	job := &Job{
		ID:         s.ID,
		Command:    s.Command,
		State:      Pending,
		MaxRetries: defaultMaxRetries,
		RunAt:      now,
		NextRunAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if s.MaxRetries != nil {
		job.MaxRetries = *s.MaxRetries
	}
	if s.Priority != nil {
		job.Priority = *s.Priority
	}
	if s.RunAt != nil {
		t := s.RunAt.UTC()
		job.RunAt = t
		job.NextRunAt = t
	}
	return job
}
