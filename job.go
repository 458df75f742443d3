// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import "time"

const (
	// Pending jobs are waiting to be claimed by a worker.
	Pending string = "pending"
	// Processing is the state of jobs currently claimed by a worker.
	Processing string = "processing"
	// Completed jobs finished with exit code 0.
	Completed string = "completed"
	// Failed is a transient label between attempts of a failing job.
	Failed string = "failed"
	// Dead jobs exhausted their retries and sit in the dead-letter queue.
	Dead string = "dead"
)

// States lists all job states in display order.
var States = []string{Pending, Processing, Completed, Failed, Dead}

// ValidState reports whether s names a known job state.
func ValidState(s string) bool {
	for _, state := range States {
		if s == state {
			return true
		}
	}
	return false
}

// Job is a shell command that needs to be executed.
type Job struct {
	ID         string     `json:"id"`                    // unique identifier
	Command    string     `json:"command"`               // opaque shell command line
	State      string     `json:"state"`                 // current state
	Attempts   int        `json:"attempts"`              // executions so far, counted at finalize
	MaxRetries int        `json:"max_retries"`           // total attempts allowed before Dead
	Priority   int        `json:"priority"`              // higher gets executed first
	RunAt      time.Time  `json:"run_at"`                // earliest eligible execution time
	NextRunAt  time.Time  `json:"next_run_at"`           // next eligible time after a retry delay
	CreatedAt  time.Time  `json:"created_at"`            // time of enqueue
	UpdatedAt  time.Time  `json:"updated_at"`            // time of last state change
	StartedAt  *time.Time `json:"started_at,omitempty"`  // time of last claim
	FinishedAt *time.Time `json:"finished_at,omitempty"` // time the job became Completed or Dead
	ExitCode   *int       `json:"exit_code,omitempty"`   // exit code of the last attempt
	Error      string     `json:"error,omitempty"`       // short failure reason of the last attempt
	Stdout     string     `json:"stdout,omitempty"`      // captured stdout of the last attempt
	Stderr     string     `json:"stderr,omitempty"`      // captured stderr of the last attempt
	ClaimedBy  string     `json:"claimed_by,omitempty"`  // worker identity while Processing
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`  // claim time while Processing
}

// Terminal reports whether the job is in a terminal state. Dead jobs only
// leave their state through an explicit DLQ retry.
func (j *Job) Terminal() bool {
	return j.State == Completed || j.State == Dead
}
