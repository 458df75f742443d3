package queuectl

import (
	"context"
	"fmt"
	"os"
	"time"
)

// worker is a single instance claiming and executing jobs.
type worker struct {
	m  *Manager
	id string
}

// newWorker creates the n-th worker of a manager. The worker identity
// embeds host, process and worker number so that claims are attributable.
func newWorker(m *Manager, n int) *worker {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &worker{
		m:  m,
		id: fmt.Sprintf("%s:%d:%d", host, os.Getpid(), n),
	}
}

// run is the main loop of the worker: claim, execute, finalize. It
// returns when ctx is cancelled. A job claimed before cancellation is
// still executed to completion; in-flight child processes are never
// aborted on shutdown.
func (w *worker) run(ctx context.Context) error {
	w.m.testWorkerStarted() // testing hook

	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := w.m.st.Claim(ctx, w.id, time.Now().UTC())
		if err != nil {
			w.m.logger.Printf("queuectl: worker %s: claim error: %v", w.id, err)
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}
		if job == nil {
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		// Shutdown may have been requested between claim and execute;
		// the claimed job still runs, then the loop exits.
		stopping := ctx.Err() != nil

		w.process(job)

		if stopping {
			return nil
		}
	}
}

// process executes a claimed job and finalizes it with exactly one of
// Complete or Fail. The child process runs detached from the worker's
// shutdown context.
func (w *worker) process(job *Job) {
	w.m.testJobStarted() // testing hook
	w.m.logger.Printf("queuectl: worker %s: executing job %s (attempt %d/%d): %s",
		w.id, job.ID, job.Attempts+1, job.MaxRetries, job.Command)

	ctx := context.Background()
	res := w.m.executor.Run(ctx, job.Command)
	now := time.Now().UTC()

	if res.Success() {
		if err := w.m.st.Complete(ctx, job.ID, res.ExitCode, res.Stdout, res.Stderr, now); err != nil {
			w.m.logger.Printf("queuectl: worker %s: error completing job %s: %v", w.id, job.ID, err)
			return
		}
		w.m.logger.Printf("queuectl: worker %s: completed job %s", w.id, job.ID)
		w.m.testJobSucceeded() // testing hook
		return
	}

	base, err := ConfigInt(ctx, w.m.st, ConfigBackoffBase)
	if err != nil {
		w.m.logger.Printf("queuectl: worker %s: error reading backoff base: %v", w.id, err)
		base = 2
	}
	if err := w.m.st.Fail(ctx, job.ID, res.ExitCode, res.Error, res.Stdout, res.Stderr, now, base); err != nil {
		w.m.logger.Printf("queuectl: worker %s: error failing job %s: %v", w.id, job.ID, err)
		return
	}
	w.m.logger.Printf("queuectl: worker %s: job %s failed (attempt %d/%d): %s",
		w.id, job.ID, job.Attempts+1, job.MaxRetries, res.Error)
	w.m.testJobFailed() // testing hook
}

// sleep waits one poll interval. It returns false when ctx was cancelled
// while waiting.
func (w *worker) sleep(ctx context.Context) bool {
	t := time.NewTimer(w.m.pollInterval(ctx))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
