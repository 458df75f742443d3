// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound must be returned from Store implementations when a certain
	// job could not be found in the specific data store.
	ErrNotFound = errors.New("queuectl: job not found")

	// ErrDuplicateID is returned when enqueueing a job whose identifier
	// already exists in the store.
	ErrDuplicateID = errors.New("queuectl: duplicate job id")

	// ErrInvalidInput is returned for malformed job specs, unknown states,
	// unparsable timestamps, and unrecognized configuration keys.
	ErrInvalidInput = errors.New("queuectl: invalid input")
)

// Store implements persistent storage of jobs and configuration.
//
// All state-changing operations must be committed before they return.
// Claim must be serializable against concurrent Claim calls: no two
// callers may receive the same job.
type Store interface {
	// Init creates the schema if it is absent. It is idempotent.
	Init(ctx context.Context) error

	// Enqueue inserts a new job in the Pending state. It returns
	// ErrDuplicateID if a job with the same identifier already exists.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically selects at most one eligible job, transitions it to
	// Processing and binds it to workerID. An eligible job is Pending with
	// NextRunAt <= now. Among eligible jobs the one with the highest
	// priority wins, then the earliest NextRunAt, then the earliest
	// CreatedAt, then the smallest ID. Claim returns nil if no job is
	// eligible.
	Claim(ctx context.Context, workerID string, now time.Time) (*Job, error)

	// Complete finalizes a Processing job as Completed, increments its
	// attempt counter and stores the captured output.
	Complete(ctx context.Context, id string, exitCode int, stdout, stderr string, now time.Time) error

	// Fail finalizes a Processing job after a failed attempt. It increments
	// the attempt counter; if the counter reaches the job's MaxRetries the
	// job becomes Dead, otherwise it returns to Pending with NextRunAt
	// delayed by backoffBase^attempts seconds (capped at MaxBackoffDelay).
	Fail(ctx context.Context, id string, exitCode int, errMsg, stdout, stderr string, now time.Time, backoffBase int) error

	// Get returns the job with the given identifier, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns jobs matching the request, ordered by CreatedAt
	// descending.
	List(ctx context.Context, req *ListRequest) ([]*Job, error)

	// CountsByState returns the number of jobs per state.
	CountsByState(ctx context.Context) (*Stats, error)

	// DLQRetry moves a Dead job back to Pending with a reset attempt
	// counter and cleared outputs. If maxRetries is non-nil, the job's
	// MaxRetries is updated. It returns ErrNotFound if the job does not
	// exist or is not Dead.
	DLQRetry(ctx context.Context, id string, maxRetries *int, now time.Time) error

	// ConfigSet stores a configuration value under its canonical key.
	ConfigSet(ctx context.Context, key, value string) error

	// ConfigGet returns a configuration value, or an empty string if the
	// key has never been set.
	ConfigGet(ctx context.Context, key string) (string, error)

	// Close releases the store's resources.
	Close() error
}

// ListRequest specifies a filter for listing jobs.
type ListRequest struct {
	State  string // filter by job state; empty matches all states
	Limit  int    // maximum number of jobs to return
	Offset int    // number of jobs to skip (for pagination)
}
