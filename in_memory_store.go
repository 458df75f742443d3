// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-memory store implementation.
// It implements the Store interface. Do not use in production.
type InMemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	config map[string]string
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:   make(map[string]*Job),
		config: make(map[string]string),
	}
}

// Init is a no-op for the in-memory store.
func (st *InMemoryStore) Init(ctx context.Context) error {
	return nil
}

// Enqueue adds a new job.
func (st *InMemoryStore) Enqueue(ctx context.Context, job *Job) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, found := st.jobs[job.ID]; found {
		return ErrDuplicateID
	}
	cp := *job
	st.jobs[job.ID] = &cp
	return nil
}

// Claim picks the next eligible job and binds it to workerID.
func (st *InMemoryStore) Claim(ctx context.Context, workerID string, now time.Time) (*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var next *Job
	for _, job := range st.jobs {
		if job.State != Pending || job.NextRunAt.After(now) {
			continue
		}
		if next == nil || claimedBefore(job, next) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	next.State = Processing
	next.ClaimedBy = workerID
	t := now
	next.ClaimedAt = &t
	next.StartedAt = &t
	next.UpdatedAt = now
	cp := *next
	return &cp, nil
}

// claimedBefore implements the claim ordering: priority descending, then
// NextRunAt ascending, then CreatedAt ascending, then ID ascending.
func claimedBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.NextRunAt.Equal(b.NextRunAt) {
		return a.NextRunAt.Before(b.NextRunAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Complete finalizes a claimed job as Completed.
func (st *InMemoryStore) Complete(ctx context.Context, id string, exitCode int, stdout, stderr string, now time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return ErrNotFound
	}
	job.State = Completed
	job.Attempts++
	job.ExitCode = &exitCode
	job.Error = ""
	job.Stdout = stdout
	job.Stderr = stderr
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	t := now
	job.FinishedAt = &t
	job.UpdatedAt = now
	return nil
}

// Fail finalizes a claimed job after a failed attempt, scheduling a retry
// or moving it to the dead-letter queue.
func (st *InMemoryStore) Fail(ctx context.Context, id string, exitCode int, errMsg, stdout, stderr string, now time.Time, backoffBase int) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return ErrNotFound
	}
	job.Attempts++
	job.ExitCode = &exitCode
	job.Error = errMsg
	job.Stdout = stdout
	job.Stderr = stderr
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	job.UpdatedAt = now
	if job.Attempts >= job.MaxRetries {
		job.State = Dead
		t := now
		job.FinishedAt = &t
	} else {
		job.State = Pending
		job.NextRunAt = now.Add(ExponentialBackoff(backoffBase, job.Attempts))
	}
	return nil
}

// Get returns the job with the specified identifier (or ErrNotFound).
func (st *InMemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// List finds matching jobs, newest first.
func (st *InMemoryStore) List(ctx context.Context, req *ListRequest) ([]*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var jobs []*Job
	for _, job := range st.jobs {
		if req.State != "" && job.State != req.State {
			continue
		}
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if req.Offset > 0 {
		if req.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[req.Offset:]
	}
	if req.Limit > 0 && len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
	}
	return jobs, nil
}

// CountsByState returns statistics about the jobs in the store.
func (st *InMemoryStore) CountsByState(ctx context.Context) (*Stats, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	stats := &Stats{}
	for _, job := range st.jobs {
		switch job.State {
		default:
			return nil, fmt.Errorf("found unknown state %v", job.State)
		case Pending:
			stats.Pending++
		case Processing:
			stats.Processing++
		case Completed:
			stats.Completed++
		case Failed:
			stats.Failed++
		case Dead:
			stats.Dead++
		}
	}
	return stats, nil
}

// DLQRetry moves a Dead job back to Pending.
func (st *InMemoryStore) DLQRetry(ctx context.Context, id string, maxRetries *int, now time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found || job.State != Dead {
		return ErrNotFound
	}
	job.State = Pending
	job.Attempts = 0
	job.NextRunAt = now
	job.Error = ""
	job.ExitCode = nil
	job.Stdout = ""
	job.Stderr = ""
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	job.FinishedAt = nil
	job.UpdatedAt = now
	if maxRetries != nil {
		job.MaxRetries = *maxRetries
	}
	return nil
}

// ConfigSet stores a configuration value.
func (st *InMemoryStore) ConfigSet(ctx context.Context, key, value string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.config[key] = value
	return nil
}

// ConfigGet returns a configuration value, or an empty string if unset.
func (st *InMemoryStore) ConfigGet(ctx context.Context, key string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.config[key], nil
}

// Close the store.
func (st *InMemoryStore) Close() error {
	return nil
}
