package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/olivere/queuectl"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "queuectl.db"))
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testJob(id string) *queuectl.Job {
	now := time.Now().UTC()
	return &queuectl.Job{
		ID:         id,
		Command:    "true",
		State:      queuectl.Pending,
		MaxRetries: 3,
		RunAt:      now,
		NextRunAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSQLiteNewStore(t *testing.T) {
	st := testStore(t)
	// Init is idempotent.
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init returned %v", err)
	}
}

func TestSQLiteEnqueueAndGet(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	job := testJob("a")
	job.Command = "printf hello"
	job.Priority = 7
	if err := st.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}

	got, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := "printf hello", got.Command; want != have {
		t.Fatalf("Command: want %q, have %q", want, have)
	}
	if want, have := queuectl.Pending, got.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}
	if want, have := 7, got.Priority; want != have {
		t.Fatalf("Priority: want %d, have %d", want, have)
	}
	if got.ExitCode != nil {
		t.Fatalf("ExitCode: want nil, have %v", *got.ExitCode)
	}
	if got.ClaimedBy != "" || got.ClaimedAt != nil {
		t.Fatalf("claim fields set on pending job")
	}
}

func TestSQLiteEnqueueDuplicateID(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	if err := st.Enqueue(ctx, testJob("dup")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	err := st.Enqueue(ctx, testJob("dup"))
	if !errors.Is(err, queuectl.ErrDuplicateID) {
		t.Fatalf("want ErrDuplicateID, have %v", err)
	}

	// The failed enqueue must not mutate the store.
	jobs, err := st.List(ctx, &queuectl.ListRequest{})
	if err != nil {
		t.Fatalf("List failed with %v", err)
	}
	if want, have := 1, len(jobs); want != have {
		t.Fatalf("len(jobs): want %d, have %d", want, have)
	}
}

func TestSQLiteGetNotFound(t *testing.T) {
	st := testStore(t)
	_, err := st.Get(context.Background(), "missing")
	if !errors.Is(err, queuectl.ErrNotFound) {
		t.Fatalf("want ErrNotFound, have %v", err)
	}
}

func TestSQLiteClaim(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	if err := st.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	now := time.Now().UTC()
	job, err := st.Claim(ctx, "w1", now)
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if job == nil {
		t.Fatal("Claim returned no job")
	}
	if want, have := queuectl.Processing, job.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}
	if want, have := "w1", job.ClaimedBy; want != have {
		t.Fatalf("ClaimedBy: want %q, have %q", want, have)
	}
	if job.ClaimedAt == nil {
		t.Fatal("ClaimedAt is nil")
	}
	// Attempts counts at finalize, not at claim.
	if want, have := 0, job.Attempts; want != have {
		t.Fatalf("Attempts: want %d, have %d", want, have)
	}

	// A second claim finds nothing.
	job2, err := st.Claim(ctx, "w2", now)
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if job2 != nil {
		t.Fatalf("want no job, have %v", job2.ID)
	}
}

func TestSQLiteClaimOrdering(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	now := time.Now().UTC()
	mk := func(id string, priority int, createdOffset time.Duration) *queuectl.Job {
		job := testJob(id)
		job.Priority = priority
		job.CreatedAt = now.Add(createdOffset)
		job.RunAt = now.Add(-time.Minute)
		job.NextRunAt = now.Add(-time.Minute)
		return job
	}
	for _, job := range []*queuectl.Job{
		mk("low", 1, 0),
		mk("high", 10, 2*time.Second),
		mk("mid", 5, time.Second),
		mk("tie-b", 5, time.Second),
	} {
		if err := st.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue failed with %v", err)
		}
	}

	var order []string
	for {
		job, err := st.Claim(ctx, "w", now)
		if err != nil {
			t.Fatalf("Claim failed with %v", err)
		}
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}
	want := []string{"high", "mid", "tie-b", "low"}
	if len(order) != len(want) {
		t.Fatalf("claimed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("claimed %v, want %v", order, want)
		}
	}
}

func TestSQLiteClaimRespectsNextRunAt(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	now := time.Now().UTC()
	job := testJob("later")
	job.RunAt = now.Add(time.Hour)
	job.NextRunAt = now.Add(time.Hour)
	if err := st.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}

	got, err := st.Claim(ctx, "w", now)
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if got != nil {
		t.Fatalf("claimed %q before its run_at", got.ID)
	}

	got, err = st.Claim(ctx, "w", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if got == nil {
		t.Fatal("job not claimable after its run_at")
	}
}

func TestSQLiteClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if err := st.Enqueue(ctx, testJob(fmt.Sprintf("job-%02d", i))); err != nil {
			t.Fatalf("Enqueue failed with %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]string) // job id -> worker id
		wg      sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				job, err := st.Claim(ctx, worker, time.Now().UTC())
				if err != nil {
					t.Errorf("Claim failed with %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[job.ID]; dup {
					t.Errorf("job %s claimed by both %s and %s", job.ID, prev, worker)
				}
				claimed[job.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	if want, have := jobs, len(claimed); want != have {
		t.Fatalf("claimed %d jobs, want %d", have, want)
	}
}

func TestSQLiteCompleteClearsClaim(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	if err := st.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	now := time.Now().UTC()
	if _, err := st.Claim(ctx, "w1", now); err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if err := st.Complete(ctx, "a", 0, "out", "err", now); err != nil {
		t.Fatalf("Complete failed with %v", err)
	}

	got, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Completed, got.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}
	if want, have := 1, got.Attempts; want != have {
		t.Fatalf("Attempts: want %d, have %d", want, have)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("ExitCode: want 0, have %v", got.ExitCode)
	}
	if want, have := "out", got.Stdout; want != have {
		t.Fatalf("Stdout: want %q, have %q", want, have)
	}
	if got.ClaimedBy != "" || got.ClaimedAt != nil {
		t.Fatal("claim fields not cleared")
	}
	if got.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}
}

func TestSQLiteFailSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	if err := st.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	now := time.Now().UTC()
	if _, err := st.Claim(ctx, "w1", now); err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if err := st.Fail(ctx, "a", 1, "nonzero_exit", "", "boom", now, 2); err != nil {
		t.Fatalf("Fail failed with %v", err)
	}

	got, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Pending, got.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}
	if want, have := 1, got.Attempts; want != have {
		t.Fatalf("Attempts: want %d, have %d", want, have)
	}
	if want, have := "nonzero_exit", got.Error; want != have {
		t.Fatalf("Error: want %q, have %q", want, have)
	}
	// Delay after the first failed attempt is base^1 = 2s.
	if want, have := now.Add(2*time.Second), got.NextRunAt; !have.Equal(want) {
		t.Fatalf("NextRunAt: want %v, have %v", want, have)
	}
	if got.ClaimedBy != "" || got.ClaimedAt != nil {
		t.Fatal("claim fields not cleared")
	}
}

func TestSQLiteFailToDead(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	job := testJob("a")
	job.MaxRetries = 2
	if err := st.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}

	now := time.Now().UTC()
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := st.Claim(ctx, "w1", now.Add(time.Duration(attempt)*time.Hour))
		if err != nil {
			t.Fatalf("Claim failed with %v", err)
		}
		if claimed == nil {
			t.Fatalf("attempt %d: no job claimable", attempt)
		}
		if err := st.Fail(ctx, "a", 1, "nonzero_exit", "", "", now, 1); err != nil {
			t.Fatalf("Fail failed with %v", err)
		}
	}

	got, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Dead, got.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}
	if want, have := 2, got.Attempts; want != have {
		t.Fatalf("Attempts: want %d, have %d", want, have)
	}
}

func TestSQLiteListPagination(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := testJob(fmt.Sprintf("job-%d", i))
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := st.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue failed with %v", err)
		}
	}

	jobs, err := st.List(ctx, &queuectl.ListRequest{Limit: 2})
	if err != nil {
		t.Fatalf("List failed with %v", err)
	}
	if want, have := 2, len(jobs); want != have {
		t.Fatalf("len(jobs): want %d, have %d", want, have)
	}
	// Newest first.
	if want, have := "job-4", jobs[0].ID; want != have {
		t.Fatalf("jobs[0]: want %q, have %q", want, have)
	}

	jobs, err = st.List(ctx, &queuectl.ListRequest{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List failed with %v", err)
	}
	if want, have := 1, len(jobs); want != have {
		t.Fatalf("len(jobs): want %d, have %d", want, have)
	}
	if want, have := "job-0", jobs[0].ID; want != have {
		t.Fatalf("jobs[0]: want %q, have %q", want, have)
	}
}

func TestSQLiteCountsByState(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	for i := 0; i < 3; i++ {
		if err := st.Enqueue(ctx, testJob(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("Enqueue failed with %v", err)
		}
	}
	now := time.Now().UTC()
	if _, err := st.Claim(ctx, "w1", now); err != nil {
		t.Fatalf("Claim failed with %v", err)
	}

	stats, err := st.CountsByState(ctx)
	if err != nil {
		t.Fatalf("CountsByState failed with %v", err)
	}
	if want, have := 2, stats.Pending; want != have {
		t.Fatalf("Pending: want %d, have %d", want, have)
	}
	if want, have := 1, stats.Processing; want != have {
		t.Fatalf("Processing: want %d, have %d", want, have)
	}
}

func TestSQLiteDLQRetry(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	job := testJob("a")
	job.MaxRetries = 1
	if err := st.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	now := time.Now().UTC()
	if _, err := st.Claim(ctx, "w1", now); err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if err := st.Fail(ctx, "a", 1, "nonzero_exit", "some out", "some err", now, 1); err != nil {
		t.Fatalf("Fail failed with %v", err)
	}

	got, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Dead, got.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}

	retries := 5
	if err := st.DLQRetry(ctx, "a", &retries, now); err != nil {
		t.Fatalf("DLQRetry failed with %v", err)
	}
	got, err = st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Pending, got.State; want != have {
		t.Fatalf("State: want %q, have %q", want, have)
	}
	if want, have := 0, got.Attempts; want != have {
		t.Fatalf("Attempts: want %d, have %d", want, have)
	}
	if want, have := 5, got.MaxRetries; want != have {
		t.Fatalf("MaxRetries: want %d, have %d", want, have)
	}
	if got.Error != "" || got.ExitCode != nil || got.Stdout != "" || got.Stderr != "" {
		t.Fatal("outputs not cleared by DLQ retry")
	}
	if got.FinishedAt != nil {
		t.Fatal("FinishedAt not cleared by DLQ retry")
	}
}

func TestSQLiteDLQRetryNotDead(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	if err := st.Enqueue(ctx, testJob("pending")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	err := st.DLQRetry(ctx, "pending", nil, time.Now().UTC())
	if !errors.Is(err, queuectl.ErrNotFound) {
		t.Fatalf("want ErrNotFound, have %v", err)
	}
	err = st.DLQRetry(ctx, "missing", nil, time.Now().UTC())
	if !errors.Is(err, queuectl.ErrNotFound) {
		t.Fatalf("want ErrNotFound, have %v", err)
	}
}

func TestSQLiteConfig(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	v, err := st.ConfigGet(ctx, "max_retries")
	if err != nil {
		t.Fatalf("ConfigGet failed with %v", err)
	}
	if want, have := "", v; want != have {
		t.Fatalf("unset key: want %q, have %q", want, have)
	}

	if err := st.ConfigSet(ctx, "max_retries", "5"); err != nil {
		t.Fatalf("ConfigSet failed with %v", err)
	}
	if err := st.ConfigSet(ctx, "max_retries", "7"); err != nil {
		t.Fatalf("ConfigSet failed with %v", err)
	}
	v, err = st.ConfigGet(ctx, "max_retries")
	if err != nil {
		t.Fatalf("ConfigGet failed with %v", err)
	}
	if want, have := "7", v; want != have {
		t.Fatalf("want %q, have %q", want, have)
	}
}

// TestSQLitePersistenceAcrossReopen checks that jobs survive a process
// restart: the database is closed and reopened, pending jobs remain
// claimable and dead jobs remain dead.
func TestSQLitePersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queuectl.db")

	st, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	if err := st.Enqueue(ctx, testJob("pending")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	dead := testJob("dead")
	dead.MaxRetries = 1
	if err := st.Enqueue(ctx, dead); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	now := time.Now().UTC()
	// Claim both jobs, then fail each once: "dead" (budget 1) moves to
	// the DLQ, "pending" (budget 3) returns to pending.
	first, err := st.Claim(ctx, "w1", now)
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	second, err := st.Claim(ctx, "w1", now)
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	var deadID, pendingID string
	if first.ID == "dead" {
		deadID, pendingID = first.ID, second.ID
	} else {
		deadID, pendingID = second.ID, first.ID
	}
	if err := st.Fail(ctx, deadID, 1, "nonzero_exit", "", "", now, 1); err != nil {
		t.Fatalf("Fail failed with %v", err)
	}
	if err := st.Fail(ctx, pendingID, 1, "nonzero_exit", "", "", now, 1); err != nil {
		t.Fatalf("Fail failed with %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed with %v", err)
	}

	st2, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	defer st2.Close()

	got, err := st2.Get(ctx, "dead")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Dead, got.State; want != have {
		t.Fatalf("dead job state: want %q, have %q", want, have)
	}
	got, err = st2.Get(ctx, "pending")
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if want, have := queuectl.Pending, got.State; want != have {
		t.Fatalf("pending job state: want %q, have %q", want, have)
	}
	claimed, err := st2.Claim(ctx, "w2", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Claim failed with %v", err)
	}
	if claimed == nil || claimed.ID != "pending" {
		t.Fatalf("pending job not claimable after reopen, have %v", claimed)
	}
}

func TestSQLiteReadOnlyStoreRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queuectl.db")

	st, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	if err := st.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}

	ro, err := NewReadOnlyStore(path)
	if err != nil {
		t.Fatalf("NewReadOnlyStore returned %v", err)
	}
	defer ro.Close()

	if _, err := ro.Get(ctx, "a"); err != nil {
		t.Fatalf("Get on read-only store failed with %v", err)
	}
	stats, err := ro.CountsByState(ctx)
	if err != nil {
		t.Fatalf("CountsByState failed with %v", err)
	}
	if want, have := 1, stats.Pending; want != have {
		t.Fatalf("Pending: want %d, have %d", want, have)
	}

	if err := ro.Enqueue(ctx, testJob("b")); err == nil {
		t.Fatal("expected Enqueue on read-only store to fail")
	}
	if err := ro.ConfigSet(ctx, "max_retries", "1"); err == nil {
		t.Fatal("expected ConfigSet on read-only store to fail")
	}
	if err := ro.DLQRetry(ctx, "a", nil, time.Now().UTC()); err == nil {
		t.Fatal("expected DLQRetry on read-only store to fail")
	}

	st.Close()
}
