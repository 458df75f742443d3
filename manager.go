// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 1

	// DefaultStopTimeout is the grace period workers get to finish their
	// current job before the manager is terminated forcefully.
	DefaultStopTimeout = 10 * time.Second

	// PIDFileName is the manager lifecycle file. Its presence, with a live
	// process identifier inside, is the ground truth for "a manager is
	// running on this host".
	PIDFileName = "worker_manager.pid"

	// ShutdownFileName is the shutdown marker workers and the manager poll.
	ShutdownFileName = "worker_manager.shutdown"

	// leaseSlack is added to the job timeout before a Processing job's
	// lease counts as expired.
	leaseSlack = 60 * time.Second
)

var (
	// ErrAlreadyRunning is returned when starting a manager while the
	// lifecycle file names a live process.
	ErrAlreadyRunning = errors.New("queuectl: worker manager already running")

	// ErrNotRunning is returned when stopping a manager and none is
	// detected.
	ErrNotRunning = errors.New("queuectl: worker manager not running")
)

func nop() {}

// Manager supervises a pool of workers. Create a new manager via New.
//
// The manager has two halves. Start spawns a detached manager process and
// returns; Run is the body of that process: it writes the lifecycle file,
// launches the workers, polls the shutdown marker and sweeps expired
// leases. Stop and Status operate on the lifecycle file from any process.
type Manager struct {
	logger      Logger
	st          Store // persistent storage
	executor    *Executor
	dataDir     string
	concurrency int           // number of parallel workers
	poll        time.Duration // poll interval override; 0 reads config
	stopTimeout time.Duration
	spawn       []string // subcommand that re-enters Run in a child process

	testWorkerStarted func() // testing hook
	testJobStarted    func() // testing hook
	testJobSucceeded  func() // testing hook
	testJobFailed     func() // testing hook
	testLeaseSwept    func() // testing hook
}

// New creates a new manager. Pass options to configure it.
func New(options ...ManagerOption) *Manager {
	m := &Manager{
		logger:            stdLogger{},
		st:                NewInMemoryStore(),
		dataDir:           "./data",
		concurrency:       defaultConcurrency,
		stopTimeout:       DefaultStopTimeout,
		spawn:             []string{"worker", "run"},
		testWorkerStarted: nop,
		testJobStarted:    nop,
		testJobSucceeded:  nop,
		testJobFailed:     nop,
		testLeaseSwept:    nop,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.executor == nil {
		m.executor = NewExecutor(SetExecutorLogger(m.logger))
	}
	return m
}

// -- Configuration --

// ManagerOption is the signature of an options provider.
type ManagerOption func(*Manager)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// SetStore specifies the backing Store implementation for the manager.
func SetStore(store Store) ManagerOption {
	return func(m *Manager) {
		m.st = store
	}
}

// SetExecutor specifies the executor that runs job commands.
func SetExecutor(e *Executor) ManagerOption {
	return func(m *Manager) {
		m.executor = e
	}
}

// SetConcurrency sets the number of workers that run at the same time.
// Concurrency must be greater or equal to 1 and is 1 by default.
func SetConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.concurrency = n
	}
}

// SetDataDir specifies the directory holding the lifecycle and shutdown
// marker files. It should be the directory of the database file.
func SetDataDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.dataDir = dir
	}
}

// SetPollInterval overrides the poll interval between empty claims.
// Without it, workers read worker_poll_interval from the configuration.
func SetPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.poll = d
	}
}

// SetStopTimeout specifies the grace period for cooperative shutdown.
func SetStopTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// SetSpawnCommand specifies the CLI subcommand Start uses to re-enter
// Run in a detached child process.
func SetSpawnCommand(args ...string) ManagerOption {
	return func(m *Manager) {
		m.spawn = args
	}
}

func (m *Manager) pidFile() string      { return filepath.Join(m.dataDir, PIDFileName) }
func (m *Manager) shutdownFile() string { return filepath.Join(m.dataDir, ShutdownFileName) }

// pollInterval returns the waiting time between empty claims.
func (m *Manager) pollInterval(ctx context.Context) time.Duration {
	if m.poll > 0 {
		return m.poll
	}
	secs, err := ConfigInt(ctx, m.st, ConfigWorkerPollInterval)
	if err != nil || secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// -- Lifecycle file --

// ManagerStatus describes the running state of the manager on this host.
type ManagerStatus struct {
	Running       bool `json:"running"`
	PID           int  `json:"pid,omitempty"`
	ActiveWorkers int  `json:"active_workers"`
}

// readPIDFile parses the lifecycle file into pid and worker count. A pid
// file naming a dead process is removed as stale.
func (m *Manager) readPIDFile() (pid, workers int, ok bool) {
	data, err := os.ReadFile(m.pidFile())
	if err != nil {
		return 0, 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		os.Remove(m.pidFile())
		return 0, 0, false
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil {
		os.Remove(m.pidFile())
		return 0, 0, false
	}
	workers = 0
	if len(fields) > 1 {
		workers, _ = strconv.Atoi(fields[1])
	}
	if !processAlive(pid) {
		os.Remove(m.pidFile())
		return 0, 0, false
	}
	return pid, workers, true
}

// writePIDFile writes "<pid> <workers>" atomically via rename.
func (m *Manager) writePIDFile(workers int) error {
	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return err
	}
	tmp := m.pidFile() + ".tmp"
	content := fmt.Sprintf("%d %d\n", os.Getpid(), workers)
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.pidFile())
}

// Status returns whether a manager is running and how many workers it
// supervises.
func (m *Manager) Status() *ManagerStatus {
	pid, workers, ok := m.readPIDFile()
	if !ok {
		return &ManagerStatus{}
	}
	return &ManagerStatus{Running: true, PID: pid, ActiveWorkers: workers}
}

// -- Start and Stop --

// Start spawns a detached manager process executing the configured spawn
// subcommand, then waits for its lifecycle file to appear. It returns
// ErrAlreadyRunning when a live manager is detected.
func (m *Manager) Start(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("%w: worker count must be at least 1", ErrInvalidInput)
	}
	if _, _, ok := m.readPIDFile(); ok {
		return ErrAlreadyRunning
	}
	// A stale marker from a crashed run would stop the new manager
	// immediately.
	os.Remove(m.shutdownFile())

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := append(append([]string{}, m.spawn...), "--count", strconv.Itoa(count))
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = detachedProcAttr()
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	// Do not wait on the child; it outlives this process.
	go cmd.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := m.readPIDFile(); ok {
			m.logger.Printf("queuectl: manager started with %d worker(s)", count)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return errors.New("queuectl: manager did not start")
}

// Run is the body of the manager process. It writes the lifecycle file,
// launches the workers and blocks until the shutdown marker appears, the
// workers fail, or ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if _, _, ok := m.readPIDFile(); ok {
		return ErrAlreadyRunning
	}
	if err := m.writePIDFile(m.concurrency); err != nil {
		return err
	}
	defer func() {
		os.Remove(m.pidFile())
		os.Remove(m.shutdownFile())
	}()

	m.logger.Printf("queuectl: manager running with %d worker(s)", m.concurrency)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.sweepExpiredLeases(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.concurrency; i++ {
		w := newWorker(m, i+1)
		g.Go(func() error { return w.run(gctx) })
	}
	g.Go(func() error {
		poll := time.NewTicker(500 * time.Millisecond)
		defer poll.Stop()
		sweep := time.NewTicker(time.Minute)
		defer sweep.Stop()
		for {
			select {
			case <-poll.C:
				if _, err := os.Stat(m.shutdownFile()); err == nil {
					m.logger.Printf("queuectl: shutdown requested")
					cancel()
					return nil
				}
			case <-sweep.C:
				m.sweepExpiredLeases(gctx)
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	m.logger.Printf("queuectl: manager stopped")
	return err
}

// Stop requests a cooperative shutdown via the marker file and waits for
// the grace period, then escalates to forceful termination. It returns
// ErrNotRunning when no live manager is detected.
func (m *Manager) Stop(ctx context.Context) error {
	pid, _, ok := m.readPIDFile()
	if !ok {
		return ErrNotRunning
	}

	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.shutdownFile(), []byte("stop\n"), 0644); err != nil {
		return err
	}

	deadline := time.Now().Add(m.stopTimeout)
	for time.Now().Before(deadline) {
		if _, _, ok := m.readPIDFile(); !ok {
			os.Remove(m.shutdownFile())
			m.logger.Printf("queuectl: manager stopped gracefully")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	m.logger.Printf("queuectl: manager did not stop in %v, terminating pid %d", m.stopTimeout, pid)
	killProcess(pid)
	os.Remove(m.pidFile())
	os.Remove(m.shutdownFile())
	return nil
}

// -- Lease sweeper --

// sweepExpiredLeases fails Processing jobs whose claim is older than the
// job timeout plus slack. A worker crash between claim and finalize
// otherwise leaves such jobs stuck forever. The failed attempt counts
// against the job's retry budget with error "lease_expired".
func (m *Manager) sweepExpiredLeases(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-(m.executor.timeout + leaseSlack))

	jobs, err := m.st.List(ctx, &ListRequest{State: Processing})
	if err != nil {
		m.logger.Printf("queuectl: lease sweep: list error: %v", err)
		return
	}
	base, err := ConfigInt(ctx, m.st, ConfigBackoffBase)
	if err != nil {
		base = 2
	}
	for _, job := range jobs {
		if job.ClaimedAt == nil || job.ClaimedAt.After(cutoff) {
			continue
		}
		err := m.st.Fail(ctx, job.ID, -1, "lease_expired", job.Stdout, job.Stderr, now, base)
		if err != nil {
			m.logger.Printf("queuectl: lease sweep: error failing job %s: %v", job.ID, err)
			continue
		}
		m.logger.Printf("queuectl: lease sweep: reclaimed job %s from %s", job.ID, job.ClaimedBy)
		m.testLeaseSwept() // testing hook
	}
}
