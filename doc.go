// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package queuectl implements a persistent background job queue for a
// single host, operated through a command-line interface.
//
// Jobs are opaque shell commands. They are enqueued into a Store (the
// production implementation is SQLite-backed, see the sqlite package),
// where a pool of workers claims them atomically, executes them as child
// processes via the Executor, and finalizes each attempt as completed or
// failed. Failing jobs are retried with exponential backoff until their
// retry budget is exhausted, at which point they move to the dead-letter
// queue (state "dead"). Jobs support priorities and delayed execution via
// a run-at timestamp.
//
// A job is always in one of five states: pending (waiting to be claimed),
// processing (claimed by a worker), completed, failed (transiently,
// between attempts), and dead (retries exhausted). Claims are
// serializable: no two workers ever receive the same job. Execution
// semantics are at-least-once; a worker crash between claim and finalize
// is recovered by the manager's lease sweeper.
//
// The Manager supervises the workers. It is started as a detached
// process; its lifecycle file (worker_manager.pid) next to the database
// is the ground truth for whether a manager is running on the host, and a
// shutdown marker file requests cooperative shutdown. Workers finish
// their current job before exiting; in-flight child processes are never
// aborted.
//
// The dashboard package serves a read-only HTTP and WebSocket view over
// the store. The cmd/queuectl package provides the CLI.
package queuectl
